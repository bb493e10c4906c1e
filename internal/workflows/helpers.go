package workflows

import (
	"strings"

	"github.com/finsight-ai/orchestrator/internal/activities"
)

// seenSet tracks dispatched questions so the retry loop never asks the
// same thing twice. Membership is on the trimmed text. It is only
// mutated between dispatch batches by the single workflow goroutine.
type seenSet map[string]bool

// markFresh reports whether the question has not been dispatched yet,
// recording it as dispatched when so. Blank questions are never fresh.
func (s seenSet) markFresh(question string) bool {
	key := strings.TrimSpace(question)
	if key == "" || s[key] {
		return false
	}
	s[key] = true
	return true
}

// partitionByPriority splits sub-queries into the sequential main set
// and the parallel fill set. With a single sub-query (or none at or
// above the threshold) the highest-priority one is the main set, so
// core facts are always gathered before peripheral ones.
func partitionByPriority(subs []activities.SubQuery, threshold int) (main, rest []activities.SubQuery) {
	for _, sq := range subs {
		if sq.Priority >= threshold {
			main = append(main, sq)
		} else {
			rest = append(rest, sq)
		}
	}
	if len(main) == 0 && len(subs) > 0 {
		// subs arrive sorted by descending priority
		main = subs[:1]
		rest = subs[1:]
	}
	return main, rest
}

// qaPairFromResult folds one agent dispatch into a QAPair. The agent
// activity reports Success for any answer it got back, so phrase-table
// hits are reclassified here: later gap checks and the synthesis filter
// both need to see them as unanswered.
func qaPairFromResult(question string, result activities.AgentExecutionResult, failurePhrases []string) activities.QAPair {
	succeeded := result.Success
	if succeeded && matchesFailurePhrase(result.Response, failurePhrases) {
		succeeded = false
	}
	return activities.QAPair{
		Question:  question,
		Answer:    result.Response,
		Succeeded: succeeded,
	}
}

func matchesFailurePhrase(answer string, phrases []string) bool {
	lower := strings.ToLower(answer)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// answeredQuestions lists the questions with a usable answer so far.
func answeredQuestions(pairs []activities.QAPair) []string {
	var out []string
	for _, qa := range pairs {
		if qa.Succeeded {
			out = append(out, qa.Question)
		}
	}
	return out
}

// subQueryTexts flattens sub-queries to their text for the run record.
func subQueryTexts(subs []activities.SubQuery) []string {
	texts := make([]string, len(subs))
	for i, sq := range subs {
		texts[i] = sq.Text
	}
	return texts
}
