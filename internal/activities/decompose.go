package activities

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/llm"
	"github.com/finsight-ai/orchestrator/internal/metrics"
)

// DecompositionInput is the input for query decomposition.
type DecompositionInput struct {
	Query    string                 `json:"query"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DecompositionResult is the planner output: sub-queries ordered by
// descending priority. Ties keep the planner's original order.
type DecompositionResult struct {
	SubQueries []SubQuery `json:"sub_queries"`
	TokensUsed int        `json:"tokens_used"`
}

// DecomposeQuery breaks a research query into independently answerable
// sub-queries. A planner failure is not fatal: the fallback is a single
// sub-query carrying the original query, which turns the run into plain
// single-question research.
func (a *Activities) DecomposeQuery(ctx context.Context, in DecompositionInput) (DecompositionResult, error) {
	start := time.Now()

	input := in.Query
	if len(in.Metadata) > 0 {
		if ctxJSON, err := json.Marshal(in.Metadata); err == nil {
			input = in.Query + "\n\nKnown context: " + string(ctxJSON)
		}
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Instructions: decompositionPrompt,
		Input:        input,
		ExpectJSON:   true,
		Temperature:  0,
		Component:    "decomposition",
		Cacheable:    true,
	})
	if err != nil {
		a.logger.Warn("Decomposition failed, falling back to single sub-query", zap.Error(err))
		metrics.DecompositionErrors.Inc()
		return fallbackDecomposition(in.Query), nil
	}

	var parsed struct {
		SubQueries []SubQuery `json:"sub_queries"`
	}
	raw := extractJSONObject(resp.Response)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil || len(parsed.SubQueries) == 0 {
		a.logger.Warn("Decomposition response unparseable, falling back to single sub-query",
			zap.Int("response_len", len(resp.Response)),
		)
		metrics.DecompositionErrors.Inc()
		return fallbackDecomposition(in.Query), nil
	}

	subs := make([]SubQuery, 0, len(parsed.SubQueries))
	for _, sq := range parsed.SubQueries {
		if sq.Text == "" {
			continue
		}
		if sq.Focus == "" {
			sq.Focus = "general"
		}
		if sq.Priority < 1 {
			sq.Priority = 1
		} else if sq.Priority > 10 {
			sq.Priority = 10
		}
		subs = append(subs, sq)
	}
	if len(subs) == 0 {
		metrics.DecompositionErrors.Inc()
		return fallbackDecomposition(in.Query), nil
	}

	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].Priority > subs[j].Priority
	})

	metrics.DecompositionLatency.Observe(time.Since(start).Seconds())
	metrics.SubQueriesPerQuery.Observe(float64(len(subs)))
	a.logger.Info("Query decomposed",
		zap.Int("sub_queries", len(subs)),
		zap.Int("tokens_used", resp.TokensUsed),
	)
	return DecompositionResult{SubQueries: subs, TokensUsed: resp.TokensUsed}, nil
}

func fallbackDecomposition(query string) DecompositionResult {
	return DecompositionResult{
		SubQueries: []SubQuery{{
			Text:     query,
			Focus:    "general",
			Entities: []string{},
			Priority: 10,
		}},
	}
}
