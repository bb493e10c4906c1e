package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/db"
)

// RecordRunInput is the archive payload for one research run.
type RecordRunInput struct {
	WorkflowID    string                 `json:"workflow_id"`
	SessionID     string                 `json:"session_id"`
	Query         string                 `json:"query"`
	Status        string                 `json:"status"`
	Result        string                 `json:"result,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	SubQueryCount int                    `json:"sub_query_count"`
	AgentCalls    int                    `json:"agent_calls"`
	RetryRounds   int                    `json:"retry_rounds"`
	TokensUsed    int                    `json:"tokens_used"`
	CostUSD       float64                `json:"cost_usd"`
	DurationMs    int64                  `json:"duration_ms"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	QAPairs       []QAPair               `json:"qa_pairs,omitempty"`
	Tables        []Table                `json:"tables,omitempty"`
	Graphs        []Graph                `json:"graphs,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	Completed     bool                   `json:"completed"`
}

// RecordResearchRun queues the run for archival. The archive is
// best-effort: with no database configured this is a no-op, and a full
// queue falls back to a synchronous write inside the db client.
func (a *Activities) RecordResearchRun(ctx context.Context, in RecordRunInput) error {
	if a.archive == nil {
		return nil
	}

	run := &db.ResearchRun{
		WorkflowID:    in.WorkflowID,
		SessionID:     in.SessionID,
		Query:         in.Query,
		Status:        in.Status,
		SubQueryCount: in.SubQueryCount,
		AgentCalls:    in.AgentCalls,
		RetryRounds:   in.RetryRounds,
		TokensUsed:    in.TokensUsed,
		CostUSD:       in.CostUSD,
		Metadata:      db.JSONB(in.Metadata),
		StartedAt:     in.StartedAt,
	}
	if in.Result != "" {
		run.Result = &in.Result
	}
	if in.ErrorMessage != "" {
		run.ErrorMessage = &in.ErrorMessage
	}
	if in.DurationMs > 0 {
		run.DurationMs = &in.DurationMs
	}
	if in.Completed {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	if len(in.QAPairs) > 0 {
		if doc, err := db.MarshalDoc(in.QAPairs); err == nil {
			run.QAPairs = doc
		}
	}
	if len(in.Tables) > 0 || len(in.Graphs) > 0 {
		doc, err := db.MarshalDoc(map[string]interface{}{
			"tables": in.Tables,
			"graphs": in.Graphs,
		})
		if err == nil {
			run.Visualization = doc
		}
	}

	if err := a.archive.QueueResearchRun(run); err != nil {
		a.logger.Warn("Research run archive failed",
			zap.String("workflow_id", in.WorkflowID),
			zap.Error(err),
		)
	}
	return nil
}

// AuditEventInput is the archive payload for one engine decision.
type AuditEventInput struct {
	WorkflowID string                 `json:"workflow_id"`
	SessionID  string                 `json:"session_id"`
	EventType  string                 `json:"event_type"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
}

// RecordAuditEvent queues a notable engine decision for later review.
func (a *Activities) RecordAuditEvent(ctx context.Context, in AuditEventInput) error {
	if a.archive == nil {
		return nil
	}

	err := a.archive.QueueAuditEvent(&db.AuditEvent{
		WorkflowID: in.WorkflowID,
		SessionID:  in.SessionID,
		EventType:  in.EventType,
		Detail:     db.JSONB(in.Detail),
	})
	if err != nil {
		a.logger.Warn("Audit event archive failed",
			zap.String("workflow_id", in.WorkflowID),
			zap.String("event_type", in.EventType),
			zap.Error(err),
		)
	}
	return nil
}
