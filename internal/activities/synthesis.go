package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/llm"
	"github.com/finsight-ai/orchestrator/internal/metrics"
)

// SynthesisInput is the input for report synthesis.
type SynthesisInput struct {
	OriginalQuery string   `json:"original_query"`
	QAPairs       []QAPair `json:"qa_pairs"`
}

// SynthesisResult is the merged report. Degraded is true when any
// fallback path produced the text instead of the full merge pipeline.
type SynthesisResult struct {
	Response   string `json:"response"`
	TokensUsed int    `json:"tokens_used"`
	Degraded   bool   `json:"degraded"`
	PairsUsed  int    `json:"pairs_used"`
}

const noInformationResponse = "I don't have enough information to provide a comprehensive answer to your query about financial data."

// noAnswerPrefixes mark answers that are polite refusals rather than
// content; they are dropped before synthesis alongside the configured
// failure phrases.
var noAnswerPrefixes = []string{"i don't know", "i do not know"}

// SynthesizeReport merges the gathered answers into one coherent report.
// The pipeline is merge, then Q&A-format repair, then company-attribution
// verification. Every stage degrades independently: a merge failure
// yields a bullet list of the raw answers, a repair failure strips the
// Q&A markers manually, and a verification failure returns the report
// unverified.
func (a *Activities) SynthesizeReport(ctx context.Context, in SynthesisInput) (SynthesisResult, error) {
	start := time.Now()
	cfg := a.config()

	valid := filterAnswers(in.QAPairs, cfg.Synthesis.FailurePhrases)
	if dropped := len(in.QAPairs) - len(valid); dropped > 0 {
		metrics.AnswersFiltered.Add(float64(dropped))
		a.logger.Info("Dropped unusable answers before synthesis",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(valid)),
		)
	}
	if len(valid) == 0 {
		metrics.SynthesisFallbacks.WithLabelValues("no_valid_answers").Inc()
		return SynthesisResult{Response: noInformationResponse, Degraded: true}, nil
	}

	merged, tokens, err := a.mergeAnswers(ctx, in.OriginalQuery, valid)
	if err != nil {
		a.logger.Warn("Merge failed, returning bullet summary", zap.Error(err))
		metrics.SynthesisFallbacks.WithLabelValues("merge_error").Inc()
		return SynthesisResult{
			Response:  bulletSummary(valid),
			Degraded:  true,
			PairsUsed: len(valid),
		}, nil
	}

	degraded := false
	if containsQAFormat(merged) {
		reformatted, reformatTokens, rerr := a.reformatReport(ctx, merged)
		if rerr != nil {
			a.logger.Warn("Q&A reformat failed, stripping markers manually", zap.Error(rerr))
			metrics.SynthesisFallbacks.WithLabelValues("reformat_error").Inc()
			merged = stripQAMarkers(merged)
			degraded = true
		} else {
			merged = reformatted
			tokens += reformatTokens
		}
	}

	verified, verifyTokens, err := a.verifyCompanies(ctx, in.OriginalQuery, merged)
	if err != nil {
		a.logger.Warn("Company verification failed, returning unverified report", zap.Error(err))
		metrics.SynthesisFallbacks.WithLabelValues("verification_error").Inc()
		degraded = true
	} else {
		merged = verified
		tokens += verifyTokens
	}

	metrics.SynthesisLatency.Observe(time.Since(start).Seconds())
	return SynthesisResult{
		Response:   merged,
		TokensUsed: tokens,
		Degraded:   degraded,
		PairsUsed:  len(valid),
	}, nil
}

// filterAnswers drops pairs already classified as failed upstream,
// empty answers, refusals, and answers matching the failure-phrase
// table.
func filterAnswers(pairs []QAPair, failurePhrases []string) []QAPair {
	var valid []QAPair
	for _, qa := range pairs {
		if !qa.Succeeded {
			continue
		}
		answer := strings.TrimSpace(qa.Answer)
		if answer == "" {
			continue
		}
		lower := strings.ToLower(answer)
		if hasAnyPrefix(lower, noAnswerPrefixes) {
			continue
		}
		if matchesAny(lower, failurePhrases) {
			continue
		}
		valid = append(valid, qa)
	}
	return valid
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func matchesAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (a *Activities) mergeAnswers(ctx context.Context, query string, pairs []QAPair) (string, int, error) {
	var sb strings.Builder
	for i, qa := range pairs {
		fmt.Fprintf(&sb, "Question %d: %s\nAnswer %d: %s\n\n", i+1, qa.Question, i+1, qa.Answer)
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Instructions: renderPrompt(mergerPrompt, map[string]string{
			"original_query": query,
			"qa_pairs":       sb.String(),
		}),
		Input:       query,
		MaxTokens:   a.config().Synthesis.MaxTokens,
		Temperature: 0.3,
		Component:   "synthesis",
	})
	if err != nil {
		return "", 0, err
	}
	merged := strings.TrimSpace(resp.Response)
	if merged == "" {
		return "", 0, fmt.Errorf("merge produced empty report")
	}
	return merged, resp.TokensUsed, nil
}

func (a *Activities) reformatReport(ctx context.Context, text string) (string, int, error) {
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Instructions: renderPrompt(reformatPrompt, map[string]string{"text": text}),
		Input:        text,
		MaxTokens:    a.config().Synthesis.MaxTokens,
		Temperature:  0.3,
		Component:    "reformat",
	})
	if err != nil {
		return "", 0, err
	}
	out := strings.TrimSpace(resp.Response)
	if out == "" {
		return "", 0, fmt.Errorf("reformat produced empty report")
	}
	return out, resp.TokensUsed, nil
}

func (a *Activities) verifyCompanies(ctx context.Context, query, text string) (string, int, error) {
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Instructions: renderPrompt(verificationPrompt, map[string]string{
			"original_query": query,
			"text":           text,
		}),
		Input:       text,
		MaxTokens:   a.config().Synthesis.MaxTokens,
		Temperature: 0,
		Component:   "verification",
	})
	if err != nil {
		return "", 0, err
	}
	out := strings.TrimSpace(resp.Response)
	if out == "" {
		return "", 0, fmt.Errorf("verification produced empty report")
	}
	return out, resp.TokensUsed, nil
}

// qaIndicators are the markers that betray leftover question-answer
// structure in a merged report.
var qaIndicators = []string{
	"Q:", "Question:", "A:", "Answer:",
	"\nQ.", "\nQuestion.", "\nA.", "\nAnswer.",
}

func containsQAFormat(text string) bool {
	for _, ind := range qaIndicators {
		if strings.Contains(text, ind) {
			return true
		}
	}
	return false
}

// stripQAMarkers is the manual fallback when the reformat call fails:
// drop question lines entirely and keep answer lines as prose.
func stripQAMarkers(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Q:") || strings.HasPrefix(trimmed, "Question:") ||
			strings.HasPrefix(trimmed, "Q.") || strings.HasPrefix(trimmed, "Question.") {
			continue
		}
		for _, prefix := range []string{"A:", "Answer:", "A.", "Answer."} {
			if strings.HasPrefix(trimmed, prefix) {
				trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
				break
			}
		}
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// bulletSummary is the last-resort presentation when the merge call
// itself fails: the raw answers as a bullet list.
func bulletSummary(pairs []QAPair) string {
	var sb strings.Builder
	sb.WriteString("Here's what I found:\n")
	for _, qa := range pairs {
		sb.WriteString("\n• ")
		sb.WriteString(strings.TrimSpace(qa.Answer))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
