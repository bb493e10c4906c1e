package workflows

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/finsight-ai/orchestrator/internal/activities"
	"github.com/finsight-ai/orchestrator/internal/constants"
)

// researchMocks bundles mock behaviors for every activity the workflow
// executes. Zero-value fields get sane defaults on register.
type researchMocks struct {
	config    func() activities.ResearchConfigSnapshot
	configErr error
	safety    func(activities.SafetyCheckInput) activities.SafetyCheckResult
	metadata  func(activities.MetadataInput) activities.QueryMetadata
	decompose func(activities.DecompositionInput) (activities.DecompositionResult, error)
	agent     func(activities.AgentExecutionInput) activities.AgentExecutionResult
	gaps      func(activities.GapAnalysisInput) activities.GapAnalysisResult
	synthesis func(activities.SynthesisInput) activities.SynthesisResult
	viz       func(activities.VisualizationInput) activities.VisualizationResult

	mu         sync.Mutex
	dispatched []string
	gapCalls   int
	runRecords []activities.RecordRunInput
}

func (m *researchMocks) recordDispatch(q string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched = append(m.dispatched, q)
}

func (m *researchMocks) dispatchedQuestions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dispatched...)
}

func (m *researchMocks) nextGapCall() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gapCalls++
	return m.gapCalls
}

func (m *researchMocks) gapCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gapCalls
}

func defaultSnapshot() activities.ResearchConfigSnapshot {
	return activities.ResearchConfigSnapshot{
		MaxRetries:            5,
		MaxParallelWorkers:    4,
		HighPriorityThreshold: 8,
		AgentTimeoutSeconds:   60,
		FailurePhrases:        []string{"unable to answer", "error", "failed"},
		MaxTables:             5,
		MaxGraphs:             3,
		SafetyEnabled:         true,
		ExtractMetadata:       true,
	}
}

func (m *researchMocks) register(env *testsuite.TestWorkflowEnvironment) {
	if m.config == nil {
		m.config = defaultSnapshot
	}
	if m.safety == nil {
		m.safety = func(in activities.SafetyCheckInput) activities.SafetyCheckResult {
			return activities.SafetyCheckResult{Approved: true, Query: in.Query}
		}
	}
	if m.metadata == nil {
		m.metadata = func(activities.MetadataInput) activities.QueryMetadata {
			return activities.QueryMetadata{}
		}
	}
	if m.decompose == nil {
		m.decompose = func(in activities.DecompositionInput) (activities.DecompositionResult, error) {
			return activities.DecompositionResult{
				SubQueries: []activities.SubQuery{{Text: in.Query, Focus: "general", Priority: 10}},
			}, nil
		}
	}
	if m.agent == nil {
		m.agent = func(in activities.AgentExecutionInput) activities.AgentExecutionResult {
			return activities.AgentExecutionResult{
				Response:   "Answer to: " + in.Query,
				TokensUsed: 100,
				Success:    true,
			}
		}
	}
	if m.gaps == nil {
		m.gaps = func(activities.GapAnalysisInput) activities.GapAnalysisResult {
			return activities.GapAnalysisResult{Gaps: []string{}}
		}
	}
	if m.synthesis == nil {
		m.synthesis = func(in activities.SynthesisInput) activities.SynthesisResult {
			return activities.SynthesisResult{
				Response:  "Merged report.",
				PairsUsed: len(in.QAPairs),
			}
		}
	}
	if m.viz == nil {
		m.viz = func(activities.VisualizationInput) activities.VisualizationResult {
			return activities.VisualizationResult{Tables: []activities.Table{}, Graphs: []activities.Graph{}}
		}
	}

	env.RegisterActivityWithOptions(
		func(ctx context.Context) (activities.ResearchConfigSnapshot, error) {
			if m.configErr != nil {
				return activities.ResearchConfigSnapshot{}, m.configErr
			}
			return m.config(), nil
		},
		activity.RegisterOptions{Name: constants.GetResearchConfigActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.SafetyCheckInput) (activities.SafetyCheckResult, error) {
			return m.safety(in), nil
		},
		activity.RegisterOptions{Name: constants.CheckQuerySafetyActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.MetadataInput) (activities.QueryMetadata, error) {
			return m.metadata(in), nil
		},
		activity.RegisterOptions{Name: constants.ExtractQueryMetadataActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.DecompositionInput) (activities.DecompositionResult, error) {
			return m.decompose(in)
		},
		activity.RegisterOptions{Name: constants.DecomposeQueryActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.AgentExecutionInput) (activities.AgentExecutionResult, error) {
			m.recordDispatch(in.Query)
			return m.agent(in), nil
		},
		activity.RegisterOptions{Name: constants.ExecuteAgentActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.GapAnalysisInput) (activities.GapAnalysisResult, error) {
			return m.gaps(in), nil
		},
		activity.RegisterOptions{Name: constants.AnalyzeGapsActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.SynthesisInput) (activities.SynthesisResult, error) {
			return m.synthesis(in), nil
		},
		activity.RegisterOptions{Name: constants.SynthesizeReportActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.VisualizationInput) (activities.VisualizationResult, error) {
			return m.viz(in), nil
		},
		activity.RegisterOptions{Name: constants.ExtractVisualizationsActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.SessionUpdateInput) (activities.SessionUpdateResult, error) {
			return activities.SessionUpdateResult{Success: true}, nil
		},
		activity.RegisterOptions{Name: constants.UpdateSessionResultActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.RecordRunInput) error {
			m.mu.Lock()
			m.runRecords = append(m.runRecords, in)
			m.mu.Unlock()
			return nil
		},
		activity.RegisterOptions{Name: constants.RecordResearchRunActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.AuditEventInput) error {
			return nil
		},
		activity.RegisterOptions{Name: constants.RecordAuditEventActivity},
	)
}

func TestResearchWorkflow_EndToEnd(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	mocks := &researchMocks{
		decompose: func(in activities.DecompositionInput) (activities.DecompositionResult, error) {
			return activities.DecompositionResult{
				SubQueries: []activities.SubQuery{
					{Text: "Tesla 2023 EBITDA margin", Focus: "financials", Priority: 9},
					{Text: "Ford 2023 EBITDA margin", Focus: "financials", Priority: 7},
				},
			}, nil
		},
		gaps: func(in activities.GapAnalysisInput) activities.GapAnalysisResult {
			return activities.GapAnalysisResult{Gaps: []string{}}
		},
		synthesis: func(in activities.SynthesisInput) activities.SynthesisResult {
			return activities.SynthesisResult{
				Response:  "Tesla's 2023 EBITDA margin was 14.4% against Ford's 5.2%.",
				PairsUsed: len(in.QAPairs),
			}
		},
		viz: func(activities.VisualizationInput) activities.VisualizationResult {
			return activities.VisualizationResult{
				Tables: []activities.Table{{
					Title: "EBITDA margins",
					Rows:  [][]string{{"Metric", "Tesla", "Ford"}, {"EBITDA margin", "14.4%", "5.2%"}},
				}},
				Graphs: []activities.Graph{},
			}
		},
	}
	mocks.register(env)

	env.ExecuteWorkflow(ResearchWorkflow, TaskInput{
		Query: "Compare Tesla and Ford's 2023 EBITDA margins",
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StatusSuccess, result.Status)
	assert.True(t, result.Success)
	assert.Contains(t, result.Result, "14.4%")
	assert.Len(t, result.SubQueries, 2)
	assert.Len(t, result.QAPairs, 2)
	require.Len(t, result.Tables, 1)
	assert.Equal(t, []string{"Metric", "Tesla", "Ford"}, result.Tables[0].Rows[0])

	dispatched := mocks.dispatchedQuestions()
	require.Len(t, dispatched, 2)
	// High-priority sub-query goes first, sequentially.
	assert.Equal(t, "Tesla 2023 EBITDA margin", dispatched[0])

	// The run lands in the archive before the workflow returns.
	mocks.mu.Lock()
	defer mocks.mu.Unlock()
	require.Len(t, mocks.runRecords, 1)
	assert.Equal(t, "completed", mocks.runRecords[0].Status)
	assert.Equal(t, 2, mocks.runRecords[0].AgentCalls)
}

func TestResearchWorkflow_DecompositionFailureFallsBack(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	mocks := &researchMocks{
		decompose: func(in activities.DecompositionInput) (activities.DecompositionResult, error) {
			return activities.DecompositionResult{}, fmt.Errorf("planner unavailable")
		},
	}
	mocks.register(env)

	env.ExecuteWorkflow(ResearchWorkflow, TaskInput{Query: "Tesla revenue 2023"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, []string{"Tesla revenue 2023"}, result.SubQueries)
	assert.Equal(t, []string{"Tesla revenue 2023"}, mocks.dispatchedQuestions())
}

func TestResearchWorkflow_GapFillAndDedup(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// The checker keeps naming the same gap; it must be dispatched once.
	mocks := &researchMocks{}
	mocks.gaps = func(in activities.GapAnalysisInput) activities.GapAnalysisResult {
		mocks.nextGapCall()
		return activities.GapAnalysisResult{Gaps: []string{"What was Ford's 2023 revenue?"}}
	}
	mocks.register(env)

	env.ExecuteWorkflow(ResearchWorkflow, TaskInput{Query: "Compare Tesla and Ford revenue"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))

	dispatched := mocks.dispatchedQuestions()
	counts := make(map[string]int)
	for _, q := range dispatched {
		counts[q]++
	}
	for q, n := range counts {
		assert.Equal(t, 1, n, "question dispatched more than once: %q", q)
	}
	assert.Contains(t, dispatched, "What was Ford's 2023 revenue?")
	// Main query plus the single deduplicated gap question.
	assert.Len(t, dispatched, 2)
}

func TestResearchWorkflow_RetryBudgetBounds(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// The checker manufactures a fresh gap on every call; the loop must
	// stop at the sequential budget of max_retries - 2.
	mocks := &researchMocks{}
	mocks.gaps = func(in activities.GapAnalysisInput) activities.GapAnalysisResult {
		n := mocks.nextGapCall()
		return activities.GapAnalysisResult{Gaps: []string{fmt.Sprintf("Follow-up question %d?", n)}}
	}
	mocks.register(env)

	env.ExecuteWorkflow(ResearchWorkflow, TaskInput{Query: "Tesla deep dive"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 3, result.RetryRounds)
	// 1 main + 1 parallel gap fill + 3 sequential retries.
	assert.Len(t, mocks.dispatchedQuestions(), 5)
	assert.Len(t, result.QAPairs, 5)
}

func TestResearchWorkflow_SafetyRejection(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	mocks := &researchMocks{
		safety: func(in activities.SafetyCheckInput) activities.SafetyCheckResult {
			return activities.SafetyCheckResult{Approved: false, Reason: "query flagged as harmful"}
		},
	}
	mocks.register(env)

	env.ExecuteWorkflow(ResearchWorkflow, TaskInput{Query: "how do I commit fraud"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StatusRejected, result.Status)
	assert.False(t, result.Success)
	assert.Equal(t, refusalMessage, result.Result)
	assert.Empty(t, mocks.dispatchedQuestions())

	mocks.mu.Lock()
	defer mocks.mu.Unlock()
	require.Len(t, mocks.runRecords, 1)
	assert.Equal(t, "rejected", mocks.runRecords[0].Status)
}

func TestResearchWorkflow_MetadataPropagates(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var sawMetadata bool
	mocks := &researchMocks{
		metadata: func(activities.MetadataInput) activities.QueryMetadata {
			return activities.QueryMetadata{CompanyName: "Tesla", TypeOfAnalysis: "Equity Research"}
		},
	}
	mocks.agent = func(in activities.AgentExecutionInput) activities.AgentExecutionResult {
		if md, ok := in.Context["query_metadata"].(map[string]interface{}); ok {
			sawMetadata = md["company_name"] == "Tesla"
		}
		return activities.AgentExecutionResult{Response: "ok", Success: true}
	}
	mocks.register(env)

	env.ExecuteWorkflow(ResearchWorkflow, TaskInput{Query: "Tesla revenue"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.True(t, sawMetadata)
	assert.Equal(t, "Tesla", result.Metadata["company_name"])
}

func TestResearchWorkflow_VisualizationOptions(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	mocks := &researchMocks{
		viz: func(in activities.VisualizationInput) activities.VisualizationResult {
			return activities.VisualizationResult{
				Tables: []activities.Table{{Title: "t", Rows: [][]string{{"h"}}}},
				Graphs: []activities.Graph{{Type: "bar", Title: "g", Datasets: []activities.GraphDataset{{Label: "d"}}}},
			}
		},
	}
	mocks.register(env)

	env.ExecuteWorkflow(ResearchWorkflow, TaskInput{
		Query:         "Tesla revenue",
		Visualization: &VisualizationOptions{IncludeTables: true, IncludeGraphs: false},
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Len(t, result.Tables, 1)
	assert.Empty(t, result.Graphs)
}

func TestResearchWorkflow_CompleteCoverageChecksGapsOnce(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// One sub-query, no low-priority rest, no gaps: the fill batch is
	// empty, so the first checker verdict stands and the retry loop
	// never re-asks it.
	mocks := &researchMocks{}
	mocks.gaps = func(in activities.GapAnalysisInput) activities.GapAnalysisResult {
		mocks.nextGapCall()
		return activities.GapAnalysisResult{Gaps: []string{}}
	}
	mocks.register(env)

	env.ExecuteWorkflow(ResearchWorkflow, TaskInput{Query: "Tesla revenue 2023"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 0, result.RetryRounds)
	assert.Len(t, mocks.dispatchedQuestions(), 1)
	assert.Equal(t, 1, mocks.gapCallCount())
}

func TestResearchWorkflow_ConfigFetchFailureUsesDefaults(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	mocks := &researchMocks{configErr: fmt.Errorf("config store unreachable")}
	mocks.register(env)

	env.ExecuteWorkflow(ResearchWorkflow, TaskInput{Query: "Tesla revenue"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, []string{"Tesla revenue"}, mocks.dispatchedQuestions())
}

func TestResearchWorkflow_FailurePhraseAnswerNotAnswered(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var gapInputs []activities.GapAnalysisInput
	mocks := &researchMocks{
		decompose: func(in activities.DecompositionInput) (activities.DecompositionResult, error) {
			return activities.DecompositionResult{
				SubQueries: []activities.SubQuery{
					{Text: "Tesla revenue", Focus: "financials", Priority: 9},
					{Text: "Ford revenue", Focus: "financials", Priority: 9},
				},
			}, nil
		},
	}
	mocks.agent = func(in activities.AgentExecutionInput) activities.AgentExecutionResult {
		if in.Query == "Ford revenue" {
			// Transport-level success carrying a failure-phrase answer.
			return activities.AgentExecutionResult{Response: "Unable to answer: source timed out.", Success: true}
		}
		return activities.AgentExecutionResult{Response: "$96.8B", Success: true}
	}
	mocks.gaps = func(in activities.GapAnalysisInput) activities.GapAnalysisResult {
		mocks.mu.Lock()
		gapInputs = append(gapInputs, in)
		mocks.mu.Unlock()
		return activities.GapAnalysisResult{Gaps: []string{}}
	}
	mocks.register(env)

	env.ExecuteWorkflow(ResearchWorkflow, TaskInput{Query: "Compare Tesla and Ford revenue"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Len(t, result.QAPairs, 2)
	assert.True(t, result.QAPairs[0].Succeeded)
	assert.False(t, result.QAPairs[1].Succeeded)

	// Only the usable answer counts as already covered for the checker.
	mocks.mu.Lock()
	defer mocks.mu.Unlock()
	require.NotEmpty(t, gapInputs)
	assert.Equal(t, []string{"Tesla revenue"}, gapInputs[0].AnsweredParts)
}

func TestQAPairFromResultClassification(t *testing.T) {
	phrases := []string{"unable to answer", "error"}

	ok := qaPairFromResult("q", activities.AgentExecutionResult{Response: "Revenue was $96.8B.", Success: true}, phrases)
	assert.True(t, ok.Succeeded)

	phraseHit := qaPairFromResult("q", activities.AgentExecutionResult{Response: "Unable to ANSWER that one.", Success: true}, phrases)
	assert.False(t, phraseHit.Succeeded)

	failed := qaPairFromResult("q", activities.AgentExecutionResult{Response: "A fluent non-answer.", Success: false}, phrases)
	assert.False(t, failed.Succeeded)

	assert.Equal(t, []string{"q"}, answeredQuestions([]activities.QAPair{ok, phraseHit, failed}))
}

func TestPartitionByPriority(t *testing.T) {
	subs := []activities.SubQuery{
		{Text: "a", Priority: 9},
		{Text: "b", Priority: 8},
		{Text: "c", Priority: 5},
	}
	main, rest := partitionByPriority(subs, 8)
	require.Len(t, main, 2)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].Text)

	// Nothing above the threshold: highest-priority one still leads.
	low := []activities.SubQuery{
		{Text: "x", Priority: 6},
		{Text: "y", Priority: 4},
	}
	main, rest = partitionByPriority(low, 8)
	require.Len(t, main, 1)
	assert.Equal(t, "x", main[0].Text)
	require.Len(t, rest, 1)
}

func TestSeenSet(t *testing.T) {
	s := make(seenSet)
	assert.True(t, s.markFresh("Tesla revenue"))
	assert.False(t, s.markFresh("Tesla revenue"))
	assert.False(t, s.markFresh("  Tesla revenue  "))
	assert.False(t, s.markFresh(""))
	assert.True(t, s.markFresh("Ford revenue"))
}
