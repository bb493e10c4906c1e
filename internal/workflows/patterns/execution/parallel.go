package execution

import (
	"go.temporal.io/sdk/workflow"

	"github.com/finsight-ai/orchestrator/internal/activities"
	"github.com/finsight-ai/orchestrator/internal/constants"
)

// ParallelConfig controls the bounded-concurrency question batch.
type ParallelConfig struct {
	MaxConcurrency int                    // Maximum concurrent agent dispatches
	Semaphore      workflow.Semaphore     // Concurrency control (interface, not pointer)
	Context        map[string]interface{} // Shared agent context for all questions
	Phase          string                 // Dispatch phase label for metrics
}

// ParallelResult is the barrier-joined output of one batch. Results is
// indexed by submission order regardless of completion order.
type ParallelResult struct {
	Results     []activities.AgentExecutionResult
	TotalTokens int
	Succeeded   int
	Failed      int
}

// ExecuteParallel dispatches independent questions to the agent with a
// bounded worker pool and joins at a barrier. Workers may complete in
// any order; each produces exactly one result slot and nothing is read
// until the whole batch has landed.
func ExecuteParallel(
	ctx workflow.Context,
	questions []string,
	sessionID string,
	config ParallelConfig,
) (*ParallelResult, error) {

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting parallel dispatch",
		"questions", len(questions),
		"max_concurrency", config.MaxConcurrency,
		"phase", config.Phase,
	)

	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	if config.Semaphore == nil {
		config.Semaphore = workflow.NewSemaphore(ctx, int64(config.MaxConcurrency))
	}

	// Channel for collecting in-flight futures with a release handshake
	futuresChan := workflow.NewChannel(ctx)

	type futureWithIndex struct {
		Index   int
		Future  workflow.Future
		Release workflow.Channel // signalled when it is safe to release the permit
	}

	for i, question := range questions {
		i := i
		question := question

		workflow.Go(ctx, func(ctx workflow.Context) {
			if err := config.Semaphore.Acquire(ctx, 1); err != nil {
				logger.Error("Failed to acquire dispatch permit",
					"question_index", i,
					"error", err,
				)
				futuresChan.Send(ctx, futureWithIndex{Index: i, Future: nil, Release: nil})
				return
			}
			rel := workflow.NewChannel(ctx)

			future := workflow.ExecuteActivity(ctx,
				constants.ExecuteAgentActivity,
				activities.AgentExecutionInput{
					Query:     question,
					SessionID: sessionID,
					Context:   config.Context,
					Phase:     config.Phase,
				})

			futuresChan.Send(ctx, futureWithIndex{Index: i, Future: future, Release: rel})

			// Hold the permit until the collector has processed the result
			var sig struct{}
			rel.Receive(ctx, &sig)
			config.Semaphore.Release(1)
		})
	}

	results := make([]activities.AgentExecutionResult, len(questions))
	totalTokens := 0
	succeeded := 0
	failed := 0

	// Receive futures and process completions in completion order
	sel := workflow.NewSelector(ctx)
	received := 0
	skippedNil := 0
	processed := 0

	var registerReceive func()
	registerReceive = func() {
		sel.AddReceive(futuresChan, func(c workflow.ReceiveChannel, more bool) {
			var fwi futureWithIndex
			c.Receive(ctx, &fwi)
			received++
			if fwi.Future == nil {
				failed++
				skippedNil++
			} else {
				fwi := fwi
				sel.AddFuture(fwi.Future, func(f workflow.Future) {
					var result activities.AgentExecutionResult
					err := f.Get(ctx, &result)
					if err != nil {
						// The activity folds dispatch errors into the answer,
						// so reaching here means the activity itself gave up.
						logger.Error("Agent dispatch failed",
							"question", questions[fwi.Index],
							"error", err,
						)
						results[fwi.Index] = activities.AgentExecutionResult{
							Response: "Error processing your request. " + err.Error(),
							Error:    err.Error(),
						}
						failed++
					} else {
						results[fwi.Index] = result
						totalTokens += result.TokensUsed
						if result.Success {
							succeeded++
						} else {
							failed++
						}
					}

					if fwi.Release != nil {
						var sig struct{}
						fwi.Release.Send(ctx, sig)
					}
					processed++
				})
			}

			if received < len(questions) {
				registerReceive()
			}
		})
	}

	if len(questions) > 0 {
		registerReceive()
	}

	// Barrier: select until every non-nil future is processed
	for processed < (len(questions) - skippedNil) {
		sel.Select(ctx)
	}

	logger.Info("Parallel dispatch completed",
		"questions", len(questions),
		"succeeded", succeeded,
		"failed", failed,
		"total_tokens", totalTokens,
	)

	return &ParallelResult{
		Results:     results,
		TotalTokens: totalTokens,
		Succeeded:   succeeded,
		Failed:      failed,
	}, nil
}
