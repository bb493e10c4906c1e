package activities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/config"
	"github.com/finsight-ai/orchestrator/internal/llm"
)

// completionHandler routes fake completion responses by component.
type completionHandler func(component, input string) (response string, status int)

func newTestActivities(t *testing.T, onCompletion completionHandler, onQuery func(query string) (string, int)) *Activities {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agent/completion":
			var req llm.CompletionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp, status := onCompletion(req.Component, req.Input)
			if status >= 400 {
				w.WriteHeader(status)
				return
			}
			json.NewEncoder(w).Encode(llm.CompletionResponse{
				Success:    true,
				Response:   resp,
				TokensUsed: 10,
			})
		case "/agent/query":
			var req llm.AgentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp, status := onQuery(req.Query)
			if status >= 400 {
				w.WriteHeader(status)
				return
			}
			json.NewEncoder(w).Encode(llm.AgentResponse{
				Success:    true,
				Response:   resp,
				TokensUsed: 25,
				ModelUsed:  "test-model",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	client := llm.NewClient(srv.URL, 5*time.Second, nil, zap.NewNop())
	return NewActivities(Options{LLM: client, Logger: zap.NewNop()})
}

func noQuery(query string) (string, int) { return "", http.StatusNotFound }

func TestDecomposeQueryParsesAndSorts(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		require.Equal(t, "decomposition", component)
		return `{"sub_queries": [
			{"sub_query": "Ford revenue 2023", "focus": "financials", "entities": ["Ford"], "priority": 6},
			{"sub_query": "Tesla revenue 2023", "focus": "financials", "entities": ["Tesla"], "priority": 10},
			{"sub_query": "EV market outlook", "focus": "news", "entities": [], "priority": 6}
		]}`, http.StatusOK
	}, noQuery)

	result, err := a.DecomposeQuery(context.Background(), DecompositionInput{
		Query: "Compare Tesla and Ford revenue in 2023",
	})
	require.NoError(t, err)
	require.Len(t, result.SubQueries, 3)
	assert.Equal(t, "Tesla revenue 2023", result.SubQueries[0].Text)
	// Stable sort keeps planner order for equal priorities.
	assert.Equal(t, "Ford revenue 2023", result.SubQueries[1].Text)
	assert.Equal(t, "EV market outlook", result.SubQueries[2].Text)
	assert.Equal(t, 10, result.TokensUsed)
}

func TestDecomposeQueryFallsBackOnUnparseableResponse(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "I could not decompose this query, sorry.", http.StatusOK
	}, noQuery)

	result, err := a.DecomposeQuery(context.Background(), DecompositionInput{Query: "Tesla revenue"})
	require.NoError(t, err)
	require.Len(t, result.SubQueries, 1)
	assert.Equal(t, "Tesla revenue", result.SubQueries[0].Text)
	assert.Equal(t, "general", result.SubQueries[0].Focus)
	assert.Equal(t, 10, result.SubQueries[0].Priority)
}

func TestDecomposeQueryFallsBackOnServiceError(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "", http.StatusInternalServerError
	}, noQuery)

	result, err := a.DecomposeQuery(context.Background(), DecompositionInput{Query: "Tesla revenue"})
	require.NoError(t, err)
	require.Len(t, result.SubQueries, 1)
	assert.Equal(t, "Tesla revenue", result.SubQueries[0].Text)
}

func TestCheckQuerySafetyRejectsEmptyOutput(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		require.Equal(t, "safety", component)
		return "", http.StatusOK
	}, noQuery)

	result, err := a.CheckQuerySafety(context.Background(), SafetyCheckInput{Query: "how do I hack a bank"})
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.NotEmpty(t, result.Reason)
}

func TestCheckQuerySafetyRefinesQuery(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "What is Tesla's 2023 revenue?", http.StatusOK
	}, noQuery)

	result, err := a.CheckQuerySafety(context.Background(), SafetyCheckInput{
		Query: "yo tell me tesla's revenue like a pirate",
	})
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, "What is Tesla's 2023 revenue?", result.Query)
}

func TestCheckQuerySafetyFailsOpenOnServiceError(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "", http.StatusInternalServerError
	}, noQuery)

	result, err := a.CheckQuerySafety(context.Background(), SafetyCheckInput{Query: "Tesla revenue"})
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, "Tesla revenue", result.Query)
}

func TestCheckQuerySafetySkippedWhenDisabled(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		t.Fatal("safety gate called while disabled")
		return "", 0
	}, noQuery)
	a.configFn = func() *config.ResearchConfig {
		cfg := &config.ResearchConfig{}
		cfg.ApplyDefaults()
		cfg.Safety.Enabled = config.Bool(false)
		return cfg
	}

	result, err := a.CheckQuerySafety(context.Background(), SafetyCheckInput{Query: "Tesla revenue"})
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, "Tesla revenue", result.Query)
}

func TestAnalyzeGapsNoneSentinel(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		require.Equal(t, "gap_analysis", component)
		return "None", http.StatusOK
	}, noQuery)

	result, err := a.AnalyzeGaps(context.Background(), GapAnalysisInput{
		OriginalQuery: "Tesla revenue",
		QAPairs:       []QAPair{{Question: "Tesla revenue", Answer: "$96.8B", Succeeded: true}},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Gaps)
}

func TestAnalyzeGapsSentinelIsNotASubstringMatch(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "None of the answers cover Ford's EBITDA margin.", http.StatusOK
	}, noQuery)

	result, err := a.AnalyzeGaps(context.Background(), GapAnalysisInput{
		OriginalQuery: "Compare Tesla and Ford EBITDA margins",
		QAPairs:       []QAPair{{Question: "Tesla EBITDA margin", Answer: "14.4%", Succeeded: true}},
	})
	require.NoError(t, err)
	require.Len(t, result.Gaps, 1)
	assert.Equal(t, "None of the answers cover Ford's EBITDA margin.", result.Gaps[0])
}

func TestAnalyzeGapsExcludesAnsweredParts(t *testing.T) {
	var checkerInput string
	a := newTestActivities(t, func(component, input string) (string, int) {
		checkerInput = input
		return "- Tesla revenue 2023\n- What was Ford's 2023 revenue?\n", http.StatusOK
	}, noQuery)

	result, err := a.AnalyzeGaps(context.Background(), GapAnalysisInput{
		OriginalQuery: "Compare Tesla and Ford revenue",
		QAPairs:       []QAPair{{Question: "Tesla revenue 2023", Answer: "$96.8B", Succeeded: true}},
		AnsweredParts: []string{"Tesla revenue 2023"},
	})
	require.NoError(t, err)

	// The checker is told what is covered, and a re-derived covered part
	// is dropped from the output either way.
	assert.Contains(t, checkerInput, "already been answered")
	assert.Contains(t, checkerInput, "- Tesla revenue 2023")
	require.Len(t, result.Gaps, 1)
	assert.Equal(t, "What was Ford's 2023 revenue?", result.Gaps[0])
}

func TestAnalyzeGapsParsesQuestions(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "- What was Ford's 2023 revenue?\n- What is the EV market outlook for 2024?\n", http.StatusOK
	}, noQuery)

	result, err := a.AnalyzeGaps(context.Background(), GapAnalysisInput{OriginalQuery: "Compare Tesla and Ford"})
	require.NoError(t, err)
	require.Len(t, result.Gaps, 2)
	assert.Equal(t, "What was Ford's 2023 revenue?", result.Gaps[0])
	assert.Equal(t, "What is the EV market outlook for 2024?", result.Gaps[1])
}

func TestAnalyzeGapsDegradesToNoGapsOnError(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "", http.StatusInternalServerError
	}, noQuery)

	result, err := a.AnalyzeGaps(context.Background(), GapAnalysisInput{OriginalQuery: "Tesla revenue"})
	require.NoError(t, err)
	assert.Empty(t, result.Gaps)
}

func TestExecuteAgentSuccess(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "", http.StatusNotFound
	}, func(query string) (string, int) {
		require.Equal(t, "Tesla revenue 2023", query)
		return "Tesla reported $96.8B revenue in 2023.", http.StatusOK
	})

	result, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Query: "Tesla revenue 2023",
		Phase: "main",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Tesla reported $96.8B revenue in 2023.", result.Response)
	assert.Equal(t, 25, result.TokensUsed)
}

func TestExecuteAgentFoldsErrorIntoAnswer(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "", http.StatusNotFound
	}, func(query string) (string, int) {
		return "", http.StatusInternalServerError
	})

	result, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Query: "Tesla revenue",
		Phase: "parallel_fill",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Response, "Error processing your request.")
	assert.NotEmpty(t, result.Error)
}

func TestExtractQueryMetadata(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		require.Equal(t, "metadata", component)
		return `Here is the metadata: {"company_name": "Tesla", "industry": "Automotive",
			"type_of_analysis": "Equity Research", "time_period": "2023", "country": null}`, http.StatusOK
	}, noQuery)

	meta, err := a.ExtractQueryMetadata(context.Background(), MetadataInput{Query: "Tesla revenue 2023"})
	require.NoError(t, err)
	assert.Equal(t, "Tesla", meta.CompanyName)
	assert.Equal(t, "Equity Research", meta.TypeOfAnalysis)

	m := meta.ToMap()
	assert.Equal(t, "Tesla", m["company_name"])
	_, hasCountry := m["country"]
	assert.False(t, hasCountry)
}

func TestExtractQueryMetadataDegradesToEmpty(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "", http.StatusInternalServerError
	}, noQuery)

	meta, err := a.ExtractQueryMetadata(context.Background(), MetadataInput{Query: "Tesla revenue"})
	require.NoError(t, err)
	assert.Equal(t, QueryMetadata{}, meta)
}

func TestExtractVisualizationsBoundsAndValidates(t *testing.T) {
	tables := make([]map[string]interface{}, 7)
	for i := range tables {
		tables[i] = map[string]interface{}{
			"title": "Revenue table",
			"rows":  [][]string{{"Year", "Revenue"}, {"2023", "$96.8B"}},
		}
	}
	payload := map[string]interface{}{
		"tables": tables,
		"graphs": []map[string]interface{}{
			{"type": "bar", "title": "Revenue", "labels": []string{"2022", "2023"},
				"datasets": []map[string]interface{}{{"label": "Tesla", "data": []float64{81.5, 96.8}}}},
			{"type": "hologram", "title": "Bogus", "labels": []string{"x"},
				"datasets": []map[string]interface{}{{"label": "y", "data": []float64{1}}}},
			{"type": "line", "title": "Margin", "labels": []string{"2022", "2023"},
				"datasets": []map[string]interface{}{{"label": "Tesla", "data": []float64{25.6, 18.2}}}},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	a := newTestActivities(t, func(component, input string) (string, int) {
		require.Equal(t, "visualization", component)
		return string(raw), http.StatusOK
	}, noQuery)

	result, err := a.ExtractVisualizations(context.Background(), VisualizationInput{
		Query:    "Tesla revenue trend",
		Response: "Tesla revenue grew from $81.5B to $96.8B.",
	})
	require.NoError(t, err)
	assert.Len(t, result.Tables, 5)
	require.Len(t, result.Graphs, 2)
	assert.Equal(t, "bar", result.Graphs[0].Type)
	assert.Equal(t, "line", result.Graphs[1].Type)
}

func TestExtractVisualizationsEmptyOnParseFailure(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "no json here", http.StatusOK
	}, noQuery)

	result, err := a.ExtractVisualizations(context.Background(), VisualizationInput{
		Query: "q", Response: "r",
	})
	require.NoError(t, err)
	assert.NotNil(t, result.Tables)
	assert.NotNil(t, result.Graphs)
	assert.Empty(t, result.Tables)
	assert.Empty(t, result.Graphs)
}

func TestGetResearchConfigSnapshot(t *testing.T) {
	a := NewActivities(Options{Logger: zap.NewNop()})

	snap, err := a.GetResearchConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, snap.MaxRetries)
	assert.Equal(t, 4, snap.MaxParallelWorkers)
	assert.Equal(t, 8, snap.HighPriorityThreshold)
	assert.Equal(t, 5, snap.MaxTables)
	assert.Equal(t, 3, snap.MaxGraphs)
	assert.NotEmpty(t, snap.FailurePhrases)
	assert.True(t, snap.SafetyEnabled)
	assert.True(t, snap.ExtractMetadata)
	assert.Equal(t, snap, DefaultConfigSnapshot())
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractJSONObject("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, "", extractJSONObject("no braces here"))
	assert.Equal(t, `{"nested": {"b": 2}}`, extractJSONObject(`prefix {"nested": {"b": 2}} suffix`))
}

func TestRenderPrompt(t *testing.T) {
	out := renderPrompt("Query: {query}\nReport: {response}", map[string]string{
		"query":    "Tesla revenue",
		"response": "grew 19%",
	})
	assert.Equal(t, "Query: Tesla revenue\nReport: grew 19%", out)
}
