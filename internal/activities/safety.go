package activities

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/llm"
	"github.com/finsight-ai/orchestrator/internal/metrics"
)

// SafetyCheckInput is the input for the pre-decomposition safety gate.
type SafetyCheckInput struct {
	Query string `json:"query"`
}

// SafetyCheckResult carries the gate verdict. When Approved is true,
// Query holds the (possibly refined) query the engine proceeds with.
type SafetyCheckResult struct {
	Approved bool   `json:"approved"`
	Query    string `json:"query"`
	Reason   string `json:"reason,omitempty"`
}

// CheckQuerySafety runs the query through the safety/refinement gate.
// The gate signals a harmful query by returning an empty completion, so
// an empty response is a rejection, not an error. Transport failures
// fail open: availability of the agent service must not block benign
// research.
func (a *Activities) CheckQuerySafety(ctx context.Context, in SafetyCheckInput) (SafetyCheckResult, error) {
	cfg := a.config()
	if !cfg.Safety.GateEnabled() {
		metrics.SafetyChecks.WithLabelValues("skipped").Inc()
		return SafetyCheckResult{Approved: true, Query: in.Query}, nil
	}

	start := time.Now()
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Instructions: safetyPrompt,
		Input:        in.Query,
		Temperature:  0,
		Component:    "safety",
	})
	if err != nil {
		a.logger.Warn("Safety check unavailable, failing open",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		metrics.SafetyChecks.WithLabelValues("fail_open").Inc()
		return SafetyCheckResult{Approved: true, Query: in.Query}, nil
	}

	refined := strings.TrimSpace(resp.Response)
	if refined == "" {
		a.logger.Info("Query rejected by safety gate")
		metrics.SafetyChecks.WithLabelValues("rejected").Inc()
		return SafetyCheckResult{
			Approved: false,
			Reason:   "query flagged as harmful",
		}, nil
	}

	metrics.SafetyChecks.WithLabelValues("approved").Inc()
	return SafetyCheckResult{Approved: true, Query: refined}, nil
}
