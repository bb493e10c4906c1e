package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/llm"
	"github.com/finsight-ai/orchestrator/internal/metrics"
	"github.com/finsight-ai/orchestrator/internal/util"
)

// GapAnalysisInput is the input for research completeness checking.
// AnsweredParts names the questions already covered so the checker
// does not list them again as gaps.
type GapAnalysisInput struct {
	OriginalQuery string   `json:"original_query"`
	QAPairs       []QAPair `json:"qa_pairs"`
	AnsweredParts []string `json:"answered_parts,omitempty"`
}

// GapAnalysisResult lists follow-up questions for the parts of the
// original query still unanswered. An empty list means coverage is
// complete (or the checker was unavailable: the engine treats both the
// same and stops retrying).
type GapAnalysisResult struct {
	Gaps       []string `json:"gaps"`
	TokensUsed int      `json:"tokens_used"`
}

// AnalyzeGaps compares the gathered answers against the original query
// and returns follow-up questions, one per remaining gap. The checker
// signals completeness with the literal "None"; errors degrade to no
// gaps so a flaky checker never spins the retry loop.
func (a *Activities) AnalyzeGaps(ctx context.Context, in GapAnalysisInput) (GapAnalysisResult, error) {
	start := time.Now()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Original query: %s\n\nResponses gathered so far:\n", in.OriginalQuery)
	for i, qa := range in.QAPairs {
		fmt.Fprintf(&sb, "\n%d. Q: %s\nA: %s\n", i+1, qa.Question, qa.Answer)
	}
	if len(in.AnsweredParts) > 0 {
		sb.WriteString("\nThe following parts of the query have already been answered. Do not include them:\n")
		for _, part := range in.AnsweredParts {
			fmt.Fprintf(&sb, "- %s\n", part)
		}
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Instructions: gapCheckerPrompt,
		Input:        sb.String(),
		Temperature:  0,
		Component:    "gap_analysis",
	})
	if err != nil {
		a.logger.Warn("Gap analysis failed, assuming complete coverage", zap.Error(err))
		metrics.GapAnalysisErrors.Inc()
		return GapAnalysisResult{Gaps: []string{}}, nil
	}

	// Completeness is the literal sentinel, not a substring: an answer
	// like "None of the responses cover X" is a gap, not completeness.
	out := strings.TrimSpace(resp.Response)
	if out == "" || strings.EqualFold(strings.TrimRight(out, "."), "none") {
		metrics.GapAnalysisLatency.Observe(time.Since(start).Seconds())
		metrics.GapsFound.Observe(0)
		return GapAnalysisResult{Gaps: []string{}, TokensUsed: resp.TokensUsed}, nil
	}

	var gaps []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line == "" || util.ContainsString(gaps, line) || util.ContainsString(in.AnsweredParts, line) {
			continue
		}
		gaps = append(gaps, line)
	}

	metrics.GapAnalysisLatency.Observe(time.Since(start).Seconds())
	metrics.GapsFound.Observe(float64(len(gaps)))
	a.logger.Info("Gap analysis found unanswered parts", zap.Int("gaps", len(gaps)))
	return GapAnalysisResult{Gaps: gaps, TokensUsed: resp.TokensUsed}, nil
}
