package activities

import (
	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/config"
	"github.com/finsight-ai/orchestrator/internal/db"
	"github.com/finsight-ai/orchestrator/internal/llm"
	"github.com/finsight-ai/orchestrator/internal/session"
)

// Activities holds shared dependencies for all research activities
type Activities struct {
	llm            *llm.Client
	sessionManager *session.Manager
	archive        *db.Client
	configFn       func() *config.ResearchConfig
	logger         *zap.Logger
}

// Options wires optional collaborators. The session manager and archive
// may be nil; the corresponding activities then degrade to no-ops.
type Options struct {
	LLM            *llm.Client
	SessionManager *session.Manager
	Archive        *db.Client
	ConfigFn       func() *config.ResearchConfig
	Logger         *zap.Logger
}

// NewActivities creates a new activities instance with dependencies
func NewActivities(opts Options) *Activities {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ConfigFn == nil {
		opts.ConfigFn = func() *config.ResearchConfig {
			cfg := &config.ResearchConfig{}
			cfg.ApplyDefaults()
			return cfg
		}
	}
	return &Activities{
		llm:            opts.LLM,
		sessionManager: opts.SessionManager,
		archive:        opts.Archive,
		configFn:       opts.ConfigFn,
		logger:         opts.Logger,
	}
}

func (a *Activities) config() *config.ResearchConfig {
	return a.configFn()
}
