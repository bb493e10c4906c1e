package opts

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ArchiveRecordOptions returns standardized activity options for
// fire-and-forget archive writes.
func ArchiveRecordOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
}

// WithArchiveRecordOptions applies archive write options to a context.
// Callers pair this with a disconnected context so a slow archive never
// blocks workflow completion.
func WithArchiveRecordOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, ArchiveRecordOptions())
}

// CompletionOptions returns activity options for structured completion
// calls (decomposition, gap analysis, synthesis, visualization). These
// degrade internally, so Temporal-level retries stay minimal.
func CompletionOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// AgentOptions returns activity options for tool-using agent dispatches,
// whose timeout is an engine tunable.
func AgentOptions(timeoutSeconds int) workflow.ActivityOptions {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 300
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(timeoutSeconds) * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
}
