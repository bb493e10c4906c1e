package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		// sqlite (used in tests) hands TEXT back as string
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// JSONDoc is a jsonb column holding an arbitrary document (arrays included)
type JSONDoc json.RawMessage

// Value implements the driver.Valuer interface
func (d JSONDoc) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return []byte(d), nil
}

// Scan implements the sql.Scanner interface
func (d *JSONDoc) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*d = append((*d)[:0], v...)
		return nil
	case string:
		*d = JSONDoc(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONDoc", value)
	}
}

// MarshalDoc wraps json.Marshal for storing typed values as JSONDoc
func MarshalDoc(v interface{}) (JSONDoc, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONDoc(data), nil
}

// ResearchRun is the archived record of one research workflow execution
type ResearchRun struct {
	ID         uuid.UUID `db:"id"`
	WorkflowID string    `db:"workflow_id"`
	SessionID  string    `db:"session_id"`
	Query      string    `db:"query"`
	Status     string    `db:"status"` // running, completed, failed, rejected

	// Results
	Result       *string `db:"result"`
	ErrorMessage *string `db:"error_message"`

	// Research shape
	SubQueryCount int `db:"sub_query_count"`
	AgentCalls    int `db:"agent_calls"`
	RetryRounds   int `db:"retry_rounds"`

	// Token metrics
	TokensUsed int     `db:"tokens_used"`
	CostUSD    float64 `db:"cost_usd"`

	// Performance
	DurationMs *int64 `db:"duration_ms"`

	// Extracted query metadata (company, industry, time period, ...)
	Metadata JSONB `db:"metadata"`

	// Collected question/answer pairs and extracted visualization payload
	QAPairs       JSONDoc `db:"qa_pairs"`
	Visualization JSONDoc `db:"visualization"`

	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

// AuditEvent records a notable engine decision for later review:
// safety rejections, per-call agent I/O, synthesis fallbacks.
type AuditEvent struct {
	ID         uuid.UUID `db:"id"`
	WorkflowID string    `db:"workflow_id"`
	SessionID  string    `db:"session_id"`
	EventType  string    `db:"event_type"`
	Detail     JSONB     `db:"detail"`
	CreatedAt  time.Time `db:"created_at"`
}

// ResearchRunFilter provides filtering options for archive queries
type ResearchRunFilter struct {
	SessionID *string
	Status    *string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// ResearchStats represents aggregated archive statistics
type ResearchStats struct {
	TotalRuns     int     `db:"total_runs"`
	CompletedRuns int     `db:"completed_runs"`
	FailedRuns    int     `db:"failed_runs"`
	TotalTokens   int     `db:"total_tokens"`
	TotalCostUSD  float64 `db:"total_cost_usd"`
	AvgDurationMs float64 `db:"avg_duration_ms"`
}
