package constants

// Activity names used for workflow registration and execution.
// Using constants eliminates magic strings and ensures consistency.
const (
	// Research pipeline activities
	CheckQuerySafetyActivity      = "CheckQuerySafety"
	ExtractQueryMetadataActivity  = "ExtractQueryMetadata"
	DecomposeQueryActivity        = "DecomposeQuery"
	ExecuteAgentActivity          = "ExecuteAgent"
	AnalyzeGapsActivity           = "AnalyzeGaps"
	SynthesizeReportActivity      = "SynthesizeReport"
	ExtractVisualizationsActivity = "ExtractVisualizations"

	// Configuration activities
	GetResearchConfigActivity = "GetResearchConfig"

	// Session management activities
	UpdateSessionResultActivity = "UpdateSessionResult"

	// Archive activities (fire-and-forget persistence)
	RecordResearchRunActivity = "RecordResearchRun"
	RecordAuditEventActivity  = "RecordAuditEvent"
)

// TaskQueue is the Temporal task queue the research worker listens on.
const TaskQueue = "finsight-research"
