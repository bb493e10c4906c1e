package activities

import (
	"context"

	"go.uber.org/zap"
)

// UpdateSessionResult appends the completed run to the session history
// and rolls up its usage totals. Session persistence is best-effort:
// a Redis outage degrades to a failed result with a nil error so the
// workflow still completes.
func (a *Activities) UpdateSessionResult(ctx context.Context, in SessionUpdateInput) (SessionUpdateResult, error) {
	if a.sessionManager == nil || in.SessionID == "" {
		return SessionUpdateResult{Success: true}, nil
	}

	err := a.sessionManager.RecordResult(ctx, in.SessionID, in.Query, in.Result, in.TokensUsed, in.CostUSD)
	if err != nil {
		a.logger.Warn("Session update failed",
			zap.String("session_id", in.SessionID),
			zap.Error(err),
		)
		return SessionUpdateResult{Success: false, Error: err.Error()}, nil
	}
	return SessionUpdateResult{Success: true}, nil
}
