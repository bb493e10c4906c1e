package activities

import (
	"context"

	"github.com/finsight-ai/orchestrator/internal/config"
)

// ResearchConfigSnapshot is the engine tuning the workflow reads once at
// start. Fetching it through an activity keeps hot-reloaded config out
// of workflow replay.
type ResearchConfigSnapshot struct {
	MaxRetries            int      `json:"max_retries"`
	MaxParallelWorkers    int      `json:"max_parallel_workers"`
	HighPriorityThreshold int      `json:"high_priority_threshold"`
	AgentTimeoutSeconds   int      `json:"agent_timeout_seconds"`
	FailurePhrases        []string `json:"failure_phrases"`
	MaxTables             int      `json:"max_tables"`
	MaxGraphs             int      `json:"max_graphs"`
	SafetyEnabled         bool     `json:"safety_enabled"`
	ExtractMetadata       bool     `json:"extract_metadata"`
}

// GetResearchConfig returns the current engine configuration snapshot
func (a *Activities) GetResearchConfig(ctx context.Context) (ResearchConfigSnapshot, error) {
	return snapshotFrom(a.config()), nil
}

// DefaultConfigSnapshot is the tuning the workflow falls back to when
// the config activity itself is unreachable. Pure, so safe in workflow
// code.
func DefaultConfigSnapshot() ResearchConfigSnapshot {
	cfg := &config.ResearchConfig{}
	cfg.ApplyDefaults()
	return snapshotFrom(cfg)
}

func snapshotFrom(cfg *config.ResearchConfig) ResearchConfigSnapshot {
	return ResearchConfigSnapshot{
		MaxRetries:            cfg.Engine.MaxRetries,
		MaxParallelWorkers:    cfg.Engine.MaxParallelWorkers,
		HighPriorityThreshold: cfg.Engine.HighPriorityThreshold,
		AgentTimeoutSeconds:   cfg.Engine.AgentTimeoutSeconds,
		FailurePhrases:        cfg.Synthesis.FailurePhrases,
		MaxTables:             cfg.Visualization.MaxTables,
		MaxGraphs:             cfg.Visualization.MaxGraphs,
		SafetyEnabled:         cfg.Safety.GateEnabled(),
		ExtractMetadata:       cfg.Safety.MetadataEnabled(),
	}
}
