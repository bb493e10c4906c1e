package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/db"
	"github.com/finsight-ai/orchestrator/internal/llm"
	"github.com/finsight-ai/orchestrator/internal/metrics"
	"github.com/finsight-ai/orchestrator/internal/util"
)

// auditPayloadMax caps query/response text in audit records.
const auditPayloadMax = 1000

// ExecuteAgent dispatches one question to the tool-using agent. A failed
// dispatch still produces an answer: the error text is folded into the
// response so synthesis can filter it with the failure-phrase table
// instead of the workflow aborting.
func (a *Activities) ExecuteAgent(ctx context.Context, in AgentExecutionInput) (AgentExecutionResult, error) {
	start := time.Now()

	agentCtx := in.Context
	if a.sessionManager != nil && in.SessionID != "" {
		if sess, err := a.sessionManager.GetSession(ctx, in.SessionID); err == nil {
			if summary := sess.HistorySummary(2000); summary != "" {
				if agentCtx == nil {
					agentCtx = make(map[string]interface{})
				}
				agentCtx["conversation_history"] = summary
			}
		}
	}

	resp, err := a.llm.Query(ctx, llm.AgentRequest{
		Query:     in.Query,
		SessionID: in.SessionID,
		Context:   agentCtx,
	})
	elapsed := time.Since(start)
	if err != nil {
		a.logger.Warn("Agent dispatch failed",
			zap.String("phase", in.Phase),
			zap.Error(err),
			zap.Duration("elapsed", elapsed),
		)
		metrics.RecordAgentMetrics(in.Phase, "error", float64(elapsed.Milliseconds()))
		return AgentExecutionResult{
			Response:   "Error processing your request. " + err.Error(),
			DurationMs: elapsed.Milliseconds(),
			Success:    false,
			Error:      err.Error(),
		}, nil
	}

	metrics.RecordAgentMetrics(in.Phase, "ok", float64(elapsed.Milliseconds()))
	a.auditAgentCall(in, resp.Response, elapsed)
	return AgentExecutionResult{
		Response:   resp.Response,
		TokensUsed: resp.TokensUsed,
		ModelUsed:  resp.ModelUsed,
		Provider:   resp.Provider,
		DurationMs: elapsed.Milliseconds(),
		Success:    true,
	}, nil
}

// auditAgentCall queues a best-effort audit record of one dispatch.
// Payloads are truncated; the full answer lives in the run archive.
func (a *Activities) auditAgentCall(in AgentExecutionInput, response string, elapsed time.Duration) {
	if a.archive == nil {
		return
	}
	err := a.archive.QueueAuditEvent(&db.AuditEvent{
		SessionID: in.SessionID,
		EventType: "agent_call",
		Detail: db.JSONB(map[string]interface{}{
			"phase":       in.Phase,
			"query":       util.TruncateString(in.Query, auditPayloadMax, false),
			"response":    util.TruncateString(response, auditPayloadMax, false),
			"duration_ms": elapsed.Milliseconds(),
		}),
	})
	if err != nil {
		a.logger.Debug("Agent call audit skipped", zap.Error(err))
	}
}
