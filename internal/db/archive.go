package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SaveResearchRun upserts one research run keyed by workflow ID, so a
// workflow retried by the engine overwrites its earlier row instead of
// duplicating it.
func (c *Client) SaveResearchRun(ctx context.Context, run *ResearchRun) error {
	if run == nil {
		return nil
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
        INSERT INTO research_runs (
            id, workflow_id, session_id, query, status,
            result, error_message,
            sub_query_count, agent_calls, retry_rounds,
            tokens_used, cost_usd, duration_ms,
            metadata, qa_pairs, visualization,
            started_at, completed_at, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
        ON CONFLICT (workflow_id) DO UPDATE SET
            status = EXCLUDED.status,
            result = EXCLUDED.result,
            error_message = EXCLUDED.error_message,
            sub_query_count = EXCLUDED.sub_query_count,
            agent_calls = EXCLUDED.agent_calls,
            retry_rounds = EXCLUDED.retry_rounds,
            tokens_used = EXCLUDED.tokens_used,
            cost_usd = EXCLUDED.cost_usd,
            duration_ms = EXCLUDED.duration_ms,
            metadata = EXCLUDED.metadata,
            qa_pairs = EXCLUDED.qa_pairs,
            visualization = EXCLUDED.visualization,
            completed_at = EXCLUDED.completed_at
    `,
		run.ID, run.WorkflowID, run.SessionID, run.Query, run.Status,
		run.Result, run.ErrorMessage,
		run.SubQueryCount, run.AgentCalls, run.RetryRounds,
		run.TokensUsed, run.CostUSD, run.DurationMs,
		run.Metadata, run.QAPairs, run.Visualization,
		run.StartedAt, run.CompletedAt, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save research run: %w", err)
	}

	c.logger.Debug("Saved research run",
		zap.String("workflow_id", run.WorkflowID),
		zap.String("status", run.Status),
	)
	return nil
}

// GetResearchRun retrieves a run by workflow ID
func (c *Client) GetResearchRun(ctx context.Context, workflowID string) (*ResearchRun, error) {
	var run ResearchRun
	err := c.db.GetContext(ctx, &run, `
        SELECT * FROM research_runs WHERE workflow_id = $1
    `, workflowID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get research run: %w", err)
	}
	return &run, nil
}

// ListResearchRuns returns archived runs matching the filter, newest first
func (c *Client) ListResearchRuns(ctx context.Context, filter ResearchRunFilter) ([]*ResearchRun, error) {
	query := `SELECT * FROM research_runs WHERE 1=1`
	args := []interface{}{}
	argn := 0

	next := func(v interface{}) string {
		argn++
		args = append(args, v)
		return fmt.Sprintf("$%d", argn)
	}

	if filter.SessionID != nil {
		query += ` AND session_id = ` + next(*filter.SessionID)
	}
	if filter.Status != nil {
		query += ` AND status = ` + next(*filter.Status)
	}
	if filter.StartTime != nil {
		query += ` AND started_at >= ` + next(*filter.StartTime)
	}
	if filter.EndTime != nil {
		query += ` AND started_at <= ` + next(*filter.EndTime)
	}

	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + next(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + next(filter.Offset)
	}

	var runs []*ResearchRun
	if err := c.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list research runs: %w", err)
	}
	return runs, nil
}

// SessionStats aggregates archive statistics for one session
func (c *Client) SessionStats(ctx context.Context, sessionID string) (*ResearchStats, error) {
	var stats ResearchStats
	err := c.db.GetContext(ctx, &stats, `
        SELECT
            COUNT(*) AS total_runs,
            COUNT(*) FILTER (WHERE status = 'completed') AS completed_runs,
            COUNT(*) FILTER (WHERE status = 'failed') AS failed_runs,
            COALESCE(SUM(tokens_used), 0) AS total_tokens,
            COALESCE(SUM(cost_usd), 0) AS total_cost_usd,
            COALESCE(AVG(duration_ms), 0) AS avg_duration_ms
        FROM research_runs
        WHERE session_id = $1
    `, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate session stats: %w", err)
	}
	return &stats, nil
}

// SaveAuditEvent inserts one audit event row
func (c *Client) SaveAuditEvent(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return nil
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
        INSERT INTO audit_events (id, workflow_id, session_id, event_type, detail, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
    `, event.ID, event.WorkflowID, event.SessionID, event.EventType, event.Detail, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns audit events for a workflow, oldest first
func (c *Client) ListAuditEvents(ctx context.Context, workflowID string) ([]*AuditEvent, error) {
	var events []*AuditEvent
	err := c.db.SelectContext(ctx, &events, `
        SELECT * FROM audit_events WHERE workflow_id = $1 ORDER BY created_at ASC
    `, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}

// QueueResearchRun archives a run asynchronously
func (c *Client) QueueResearchRun(run *ResearchRun) error {
	return c.QueueWrite(WriteTypeResearchRun, run, nil)
}

// QueueAuditEvent archives an audit event asynchronously
func (c *Client) QueueAuditEvent(event *AuditEvent) error {
	return c.QueueWrite(WriteTypeAuditEvent, event, nil)
}
