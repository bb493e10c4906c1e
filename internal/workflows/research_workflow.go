package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/finsight-ai/orchestrator/internal/activities"
	"github.com/finsight-ai/orchestrator/internal/constants"
	"github.com/finsight-ai/orchestrator/internal/workflows/opts"
	"github.com/finsight-ai/orchestrator/internal/workflows/patterns/execution"
)

const refusalMessage = "I'm sorry, but I can't help with that request."

// ResearchWorkflow drives one research run end to end: safety gate,
// metadata extraction, decomposition, sequential high-priority dispatch,
// parallel gap filling, bounded sequential retry, synthesis, and
// visualization extraction. Engine tunables come from one config
// snapshot fetched up front so hot reloads never affect replay.
func ResearchWorkflow(ctx workflow.Context, input TaskInput) (TaskResult, error) {
	logger := workflow.GetLogger(ctx)
	startedAt := workflow.Now(ctx)
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID

	logger.Info("Starting research workflow",
		"query", input.Query,
		"session_id", input.SessionID,
	)

	cfgCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	var cfg activities.ResearchConfigSnapshot
	if err := workflow.ExecuteActivity(cfgCtx, constants.GetResearchConfigActivity).Get(cfgCtx, &cfg); err != nil {
		logger.Warn("Engine configuration unavailable, using built-in defaults", "error", err)
		cfg = activities.DefaultConfigSnapshot()
	}

	completionCtx := workflow.WithActivityOptions(ctx, opts.CompletionOptions())
	agentCtx := workflow.WithActivityOptions(ctx, opts.AgentOptions(cfg.AgentTimeoutSeconds))

	// Safety gate. The activity fails open on transport errors; an
	// activity-level failure here (timeout) gets the same treatment.
	workingQuery := input.Query
	var safety activities.SafetyCheckResult
	err := workflow.ExecuteActivity(completionCtx, constants.CheckQuerySafetyActivity,
		activities.SafetyCheckInput{Query: input.Query}).Get(completionCtx, &safety)
	switch {
	case err != nil:
		logger.Warn("Safety gate unavailable, proceeding with original query", "error", err)
	case !safety.Approved:
		logger.Info("Query rejected by safety gate", "reason", safety.Reason)
		recordRejection(ctx, workflowID, input, safety.Reason, startedAt)
		return TaskResult{
			Status:       StatusRejected,
			Result:       refusalMessage,
			ErrorMessage: safety.Reason,
			Metadata:     map[string]interface{}{"rejected": true},
		}, nil
	default:
		workingQuery = safety.Query
	}

	// Metadata extraction, skipped when the caller already has it.
	metadataMap := input.KnownMetadata
	if cfg.ExtractMetadata && len(metadataMap) == 0 {
		var meta activities.QueryMetadata
		if err := workflow.ExecuteActivity(completionCtx, constants.ExtractQueryMetadataActivity,
			activities.MetadataInput{Query: workingQuery}).Get(completionCtx, &meta); err != nil {
			logger.Warn("Metadata extraction unavailable", "error", err)
		} else {
			metadataMap = meta.ToMap()
		}
	}

	agentContext := make(map[string]interface{}, len(input.Context)+1)
	for k, v := range input.Context {
		agentContext[k] = v
	}
	if len(metadataMap) > 0 {
		agentContext["query_metadata"] = metadataMap
	}

	// Decomposition. The activity falls back internally; an activity-level
	// failure falls back to the same single sub-query here.
	var decomp activities.DecompositionResult
	if err := workflow.ExecuteActivity(completionCtx, constants.DecomposeQueryActivity,
		activities.DecompositionInput{Query: workingQuery, Metadata: metadataMap}).Get(completionCtx, &decomp); err != nil {
		logger.Warn("Decomposition unavailable, using single sub-query", "error", err)
		decomp = activities.DecompositionResult{
			SubQueries: []activities.SubQuery{{Text: workingQuery, Focus: "general", Priority: 10}},
		}
	}
	totalTokens := decomp.TokensUsed

	seen := make(seenSet)
	var qaPairs []activities.QAPair

	// MAIN: high-priority sub-queries sequentially, core facts first.
	mainSubs, restSubs := partitionByPriority(decomp.SubQueries, cfg.HighPriorityThreshold)
	for _, sq := range mainSubs {
		if !seen.markFresh(sq.Text) {
			continue
		}
		result := dispatchOne(agentCtx, sq.Text, input.SessionID, agentContext, "main")
		qaPairs = append(qaPairs, qaPairFromResult(sq.Text, result, cfg.FailurePhrases))
		totalTokens += result.TokensUsed
	}

	// PARALLEL_FILL: sub-priority decomposition questions plus the
	// follow-ups from one gap check over the MAIN results, as one
	// bounded-concurrency batch. An empty batch goes straight on.
	var fill []string
	for _, sq := range restSubs {
		if seen.markFresh(sq.Text) {
			fill = append(fill, sq.Text)
		}
	}
	gaps, gapTokens := analyzeGaps(completionCtx, input.Query, qaPairs)
	totalTokens += gapTokens
	for _, q := range gaps {
		if seen.markFresh(q) {
			fill = append(fill, q)
		}
	}
	if len(fill) > 0 {
		workers := cfg.MaxParallelWorkers
		if workers > len(fill) {
			workers = len(fill)
		}
		batch, _ := execution.ExecuteParallel(agentCtx, fill, input.SessionID, execution.ParallelConfig{
			MaxConcurrency: workers,
			Context:        agentContext,
			Phase:          "parallel_fill",
		})
		for i, result := range batch.Results {
			qaPairs = append(qaPairs, qaPairFromResult(fill[i], result, cfg.FailurePhrases))
		}
		totalTokens += batch.TotalTokens
	}

	// SEQUENTIAL_RETRY: MAIN and PARALLEL_FILL each consumed a round, so
	// remaining = max_retries - 2. One question per iteration, with a
	// fresh gap check between iterations except on the last.
	remaining := cfg.MaxRetries - 2
	if remaining < 0 {
		remaining = 0
	}
	retryRounds := 0
	var toAsk []string
	// The fill batch changed the answer set, so its completeness verdict
	// is stale and worth one more check. An empty batch means no new
	// answers arrived since the first check and its verdict stands.
	if remaining > 0 && len(fill) > 0 {
		gaps, gapTokens = analyzeGaps(completionCtx, input.Query, qaPairs)
		totalTokens += gapTokens
		for _, q := range gaps {
			if seen.markFresh(q) {
				toAsk = append(toAsk, q)
			}
		}
		for iteration := 0; iteration < remaining; iteration++ {
			if len(toAsk) == 0 {
				logger.Info("No pending questions, ending retry loop", "rounds", retryRounds)
				break
			}
			question := toAsk[0]
			toAsk = toAsk[1:]
			retryRounds++
			logger.Info("Sequential retry dispatch", "round", retryRounds, "question", question)

			result := dispatchOne(agentCtx, question, input.SessionID, agentContext, "sequential_retry")
			qaPairs = append(qaPairs, qaPairFromResult(question, result, cfg.FailurePhrases))
			totalTokens += result.TokensUsed

			if iteration < remaining-1 {
				gaps, gapTokens = analyzeGaps(completionCtx, input.Query, qaPairs)
				totalTokens += gapTokens
				for _, q := range gaps {
					if seen.markFresh(q) {
						toAsk = append(toAsk, q)
					}
				}
			}
		}
	}

	// MERGE
	var synth activities.SynthesisResult
	if err := workflow.ExecuteActivity(completionCtx, constants.SynthesizeReportActivity,
		activities.SynthesisInput{OriginalQuery: input.Query, QAPairs: qaPairs}).Get(completionCtx, &synth); err != nil {
		logger.Error("Synthesis failed", "error", err)
		result := TaskResult{
			Status:       StatusError,
			ErrorMessage: err.Error(),
			SubQueries:   subQueryTexts(decomp.SubQueries),
			QAPairs:      qaPairs,
			TokensUsed:   totalTokens,
			RetryRounds:  retryRounds,
		}
		recordRun(ctx, workflowID, input, result, metadataMap, startedAt)
		return result, err
	}
	totalTokens += synth.TokensUsed

	// Visualization extraction, honoring per-run options.
	vizOpts := input.Visualization
	var viz activities.VisualizationResult
	if vizOpts == nil || vizOpts.IncludeTables || vizOpts.IncludeGraphs {
		vizIn := activities.VisualizationInput{Query: input.Query, Response: synth.Response}
		if vizOpts != nil {
			vizIn.MaxTables = vizOpts.MaxTables
			vizIn.MaxGraphs = vizOpts.MaxGraphs
		}
		if err := workflow.ExecuteActivity(completionCtx, constants.ExtractVisualizationsActivity,
			vizIn).Get(completionCtx, &viz); err != nil {
			logger.Warn("Visualization extraction unavailable", "error", err)
		}
		totalTokens += viz.TokensUsed
	}
	if vizOpts != nil && !vizOpts.IncludeTables {
		viz.Tables = nil
	}
	if vizOpts != nil && !vizOpts.IncludeGraphs {
		viz.Graphs = nil
	}

	// Session continuity, before archival so the next turn sees this one.
	if input.SessionID != "" {
		var sessionResult activities.SessionUpdateResult
		if err := workflow.ExecuteActivity(cfgCtx, constants.UpdateSessionResultActivity,
			activities.SessionUpdateInput{
				SessionID:  input.SessionID,
				Query:      input.Query,
				Result:     synth.Response,
				TokensUsed: totalTokens,
				QAPairs:    len(qaPairs),
			}).Get(cfgCtx, &sessionResult); err != nil {
			logger.Warn("Session update failed", "session_id", input.SessionID, "error", err)
		}
	}

	result := TaskResult{
		Status:      StatusSuccess,
		Result:      synth.Response,
		Success:     true,
		SubQueries:  subQueryTexts(decomp.SubQueries),
		QAPairs:     qaPairs,
		Tables:      viz.Tables,
		Graphs:      viz.Graphs,
		TokensUsed:  totalTokens,
		RetryRounds: retryRounds,
		Metadata:    metadataMap,
	}
	recordRun(ctx, workflowID, input, result, metadataMap, startedAt)

	logger.Info("Research workflow completed",
		"qa_pairs", len(qaPairs),
		"retry_rounds", retryRounds,
		"tokens_used", totalTokens,
		"tables", len(viz.Tables),
		"graphs", len(viz.Graphs),
	)
	return result, nil
}

// dispatchOne runs a single agent dispatch, folding an activity-level
// failure into an error answer so the pipeline keeps moving.
func dispatchOne(ctx workflow.Context, question, sessionID string, agentContext map[string]interface{}, phase string) activities.AgentExecutionResult {
	var result activities.AgentExecutionResult
	err := workflow.ExecuteActivity(ctx, constants.ExecuteAgentActivity,
		activities.AgentExecutionInput{
			Query:     question,
			SessionID: sessionID,
			Context:   agentContext,
			Phase:     phase,
		}).Get(ctx, &result)
	if err != nil {
		return activities.AgentExecutionResult{
			Response: "Error processing your request. " + err.Error(),
			Error:    err.Error(),
		}
	}
	return result
}

// analyzeGaps runs one completeness check. Questions already answered
// are named in the input so the checker does not re-derive them.
// Failures degrade to no gaps; the retry loop stops rather than
// spinning on a flaky checker.
func analyzeGaps(ctx workflow.Context, originalQuery string, qaPairs []activities.QAPair) ([]string, int) {
	var result activities.GapAnalysisResult
	err := workflow.ExecuteActivity(ctx, constants.AnalyzeGapsActivity,
		activities.GapAnalysisInput{
			OriginalQuery: originalQuery,
			QAPairs:       qaPairs,
			AnsweredParts: answeredQuestions(qaPairs),
		}).Get(ctx, &result)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Gap analysis unavailable, assuming complete", "error", err)
		return nil, 0
	}
	return result.Gaps, result.TokensUsed
}

// recordRun archives the completed run. The archive activity enqueues
// the row on the client's async writer and returns, so waiting for it
// here costs little; the disconnected context keeps the record alive
// even when the run itself was cancelled.
func recordRun(ctx workflow.Context, workflowID string, input TaskInput, result TaskResult, metadata map[string]interface{}, startedAt time.Time) {
	detachedCtx, _ := workflow.NewDisconnectedContext(ctx)
	dctx := opts.WithArchiveRecordOptions(detachedCtx)

	status := "completed"
	if result.Status == StatusError {
		status = "failed"
	}
	err := workflow.ExecuteActivity(dctx, constants.RecordResearchRunActivity, activities.RecordRunInput{
		WorkflowID:    workflowID,
		SessionID:     input.SessionID,
		Query:         input.Query,
		Status:        status,
		Result:        result.Result,
		ErrorMessage:  result.ErrorMessage,
		SubQueryCount: len(result.SubQueries),
		AgentCalls:    len(result.QAPairs),
		RetryRounds:   result.RetryRounds,
		TokensUsed:    result.TokensUsed,
		Metadata:      metadata,
		QAPairs:       result.QAPairs,
		Tables:        result.Tables,
		Graphs:        result.Graphs,
		StartedAt:     startedAt,
		DurationMs:    workflow.Now(ctx).Sub(startedAt).Milliseconds(),
		Completed:     true,
	}).Get(dctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Run archival failed", "error", err)
	}
}

// recordRejection archives a safety rejection and its audit trail.
func recordRejection(ctx workflow.Context, workflowID string, input TaskInput, reason string, startedAt time.Time) {
	detachedCtx, _ := workflow.NewDisconnectedContext(ctx)
	dctx := opts.WithArchiveRecordOptions(detachedCtx)

	if err := workflow.ExecuteActivity(dctx, constants.RecordAuditEventActivity, activities.AuditEventInput{
		WorkflowID: workflowID,
		SessionID:  input.SessionID,
		EventType:  "safety_rejection",
		Detail:     map[string]interface{}{"reason": reason},
	}).Get(dctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Rejection audit failed", "error", err)
	}
	if err := workflow.ExecuteActivity(dctx, constants.RecordResearchRunActivity, activities.RecordRunInput{
		WorkflowID:   workflowID,
		SessionID:    input.SessionID,
		Query:        input.Query,
		Status:       "rejected",
		ErrorMessage: reason,
		StartedAt:    startedAt,
		DurationMs:   workflow.Now(ctx).Sub(startedAt).Milliseconds(),
		Completed:    true,
	}).Get(dctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Rejection archival failed", "error", err)
	}
}
