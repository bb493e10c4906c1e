package workflows

import (
	"github.com/finsight-ai/orchestrator/internal/activities"
)

// Run statuses reported in TaskResult and the research archive.
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// VisualizationOptions lets a caller narrow table/graph extraction for
// one run. Max values tighten the configured ceilings, never raise them.
type VisualizationOptions struct {
	IncludeTables bool
	IncludeGraphs bool
	MaxTables     int
	MaxGraphs     int
}

// TaskInput is the input to a research workflow run.
type TaskInput struct {
	Query     string
	SessionID string
	Context   map[string]interface{}

	// Metadata extracted by a previous run in the same session, when the
	// caller wants to skip re-extraction.
	KnownMetadata map[string]interface{}

	// Nil means extract both kinds with the configured ceilings.
	Visualization *VisualizationOptions
}

// TaskResult is the full output of a research run: the merged report
// plus the research shape that produced it.
type TaskResult struct {
	Status       string
	Result       string
	Success      bool
	ErrorMessage string

	SubQueries []string
	QAPairs    []activities.QAPair
	Tables     []activities.Table
	Graphs     []activities.Graph

	TokensUsed  int
	RetryRounds int
	Metadata    map[string]interface{}
}
