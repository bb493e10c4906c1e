package activities

// SubQuery is one decomposed, independently answerable facet of a research query.
type SubQuery struct {
	Text     string   `json:"sub_query"`
	Focus    string   `json:"focus"`
	Entities []string `json:"entities"`
	Priority int      `json:"priority"` // 1-10, 10 highest
}

// QAPair is one dispatched question and the agent's answer.
// Succeeded is false when the agent call failed or the answer text
// matched the configured failure-phrase table.
type QAPair struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Succeeded bool   `json:"succeeded"`
}

// Table is a tabular extraction from the final narrative.
// Rows[0] is the header row.
type Table struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Rows        [][]string `json:"rows"`
}

// GraphDataset is one series within a Graph.
type GraphDataset struct {
	Label string        `json:"label"`
	Data  []interface{} `json:"data"` // numbers, or strings when the narrative gives mixed units
	Color string        `json:"color,omitempty"`
}

// Graph is a chartable extraction from the final narrative.
type Graph struct {
	Type        string         `json:"type"` // one of GraphTypes
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Labels      []string       `json:"labels"`
	Datasets    []GraphDataset `json:"datasets"`
	XAxis       string         `json:"x_axis,omitempty"`
	YAxis       string         `json:"y_axis,omitempty"`
}

// GraphTypes is the closed set of chart types the extractor accepts.
// Entries outside this set are dropped at the validation boundary.
var GraphTypes = map[string]bool{
	"line":    true,
	"bar":     true,
	"pie":     true,
	"scatter": true,
	"area":    true,
	"radar":   true,
	"mixed":   true,
}

// AgentExecutionInput is the input for one agent dispatch.
type AgentExecutionInput struct {
	Query     string                 `json:"query"`
	SessionID string                 `json:"session_id"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Phase     string                 `json:"phase"` // main, parallel_fill, sequential_retry
}

// AgentExecutionResult is the result of one agent dispatch.
type AgentExecutionResult struct {
	Response   string `json:"response"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
	Provider   string `json:"provider"`
	DurationMs int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// SessionUpdateInput is the input for updating session state after a run.
type SessionUpdateInput struct {
	SessionID  string  `json:"session_id"`
	Query      string  `json:"query"`
	Result     string  `json:"result"`
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
	QAPairs    int     `json:"qa_pairs"`
}

// SessionUpdateResult is the result of a session update.
type SessionUpdateResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
