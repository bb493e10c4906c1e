package activities

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeReportFiltersAndMerges(t *testing.T) {
	var mergeInput string
	a := newTestActivities(t, func(component, input string) (string, int) {
		switch component {
		case "synthesis":
			mergeInput = input
			return "Tesla reported $96.8B in 2023 revenue while Ford reported $176B.", http.StatusOK
		case "verification":
			return "Tesla reported $96.8B in 2023 revenue while Ford reported $176B.", http.StatusOK
		default:
			t.Fatalf("unexpected component %q", component)
			return "", 0
		}
	}, noQuery)

	result, err := a.SynthesizeReport(context.Background(), SynthesisInput{
		OriginalQuery: "Compare Tesla and Ford revenue",
		QAPairs: []QAPair{
			{Question: "Tesla revenue?", Answer: "Tesla reported $96.8B revenue in 2023.", Succeeded: true},
			{Question: "Ford revenue?", Answer: "Ford reported $176B revenue in 2023.", Succeeded: true},
			{Question: "GM revenue?", Answer: "I don't know the answer to that.", Succeeded: true},
			{Question: "Rivian revenue?", Answer: "", Succeeded: false},
			{Question: "Lucid revenue?", Answer: "Unable to answer: data source timed out.", Succeeded: false},
			{Question: "Stellantis revenue?", Answer: "Stellantis is a European automaker.", Succeeded: false},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Equal(t, 2, result.PairsUsed)
	assert.Contains(t, result.Response, "$96.8B")
	assert.Equal(t, "Compare Tesla and Ford revenue", mergeInput)
}

func TestSynthesizeReportNoValidAnswers(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		t.Fatalf("completion called with no valid answers, component %q", component)
		return "", 0
	}, noQuery)

	result, err := a.SynthesizeReport(context.Background(), SynthesisInput{
		OriginalQuery: "Tesla revenue",
		QAPairs: []QAPair{
			{Question: "q1", Answer: "I don't know.", Succeeded: true},
			{Question: "q2", Answer: "Error processing your request. connection refused", Succeeded: true},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, noInformationResponse, result.Response)
}

func TestSynthesizeReportBulletFallbackOnMergeError(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		return "", http.StatusInternalServerError
	}, noQuery)

	result, err := a.SynthesizeReport(context.Background(), SynthesisInput{
		OriginalQuery: "Tesla revenue",
		QAPairs: []QAPair{
			{Question: "Tesla revenue?", Answer: "Tesla reported $96.8B revenue in 2023.", Succeeded: true},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.True(t, strings.HasPrefix(result.Response, "Here's what I found:"))
	assert.Contains(t, result.Response, "• Tesla reported $96.8B revenue in 2023.")
}

func TestSynthesizeReportReformatsQAOutput(t *testing.T) {
	a := newTestActivities(t, func(component, input string) (string, int) {
		switch component {
		case "synthesis":
			return "Q: What was Tesla's revenue?\nA: $96.8B in 2023.", http.StatusOK
		case "reformat":
			return "Tesla generated $96.8B of revenue in 2023.", http.StatusOK
		case "verification":
			return "Tesla generated $96.8B of revenue in 2023.", http.StatusOK
		default:
			t.Fatalf("unexpected component %q", component)
			return "", 0
		}
	}, noQuery)

	result, err := a.SynthesizeReport(context.Background(), SynthesisInput{
		OriginalQuery: "Tesla revenue",
		QAPairs: []QAPair{
			{Question: "Tesla revenue?", Answer: "$96.8B in 2023.", Succeeded: true},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Equal(t, "Tesla generated $96.8B of revenue in 2023.", result.Response)
}

func TestFilterAnswers(t *testing.T) {
	phrases := []string{"unable to answer", "not found", "error", "failed"}
	pairs := []QAPair{
		{Question: "a", Answer: "Tesla revenue was $96.8B.", Succeeded: true},
		{Question: "b", Answer: "  ", Succeeded: true},
		{Question: "c", Answer: "I don't know anything about that.", Succeeded: true},
		{Question: "d", Answer: "I do not know.", Succeeded: true},
		{Question: "e", Answer: "The request FAILED upstream.", Succeeded: true},
		{Question: "f", Answer: "Data not found for this ticker.", Succeeded: true},
		{Question: "g", Answer: "A fluent answer carrying no usable data.", Succeeded: false},
	}
	valid := filterAnswers(pairs, phrases)
	require.Len(t, valid, 1)
	assert.Equal(t, "a", valid[0].Question)
}

func TestContainsQAFormat(t *testing.T) {
	assert.True(t, containsQAFormat("Q: what\nA: that"))
	assert.True(t, containsQAFormat("Some text\nQuestion: what?"))
	assert.False(t, containsQAFormat("Tesla grew revenue 19% year over year. No quarrels."))
}

func TestStripQAMarkers(t *testing.T) {
	in := "Q: What was Tesla's revenue?\nA: Tesla reported $96.8B.\nRevenue grew 19%."
	out := stripQAMarkers(in)
	assert.NotContains(t, out, "Q:")
	assert.NotContains(t, out, "A:")
	assert.Contains(t, out, "Tesla reported $96.8B.")
	assert.Contains(t, out, "Revenue grew 19%.")
}
