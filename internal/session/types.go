package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has expired
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidSession is returned when session data is invalid
	ErrInvalidSession = errors.New("invalid session")
)

// Session carries conversational continuity across research runs. The
// history feeds follow-up questions back into agent context so "compare
// that to Ford" resolves against the previous answer.
type Session struct {
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	ExpiresAt time.Time              `json:"expires_at"`
	Metadata  map[string]interface{} `json:"metadata"`
	Context   map[string]interface{} `json:"context"`
	History   []Exchange             `json:"history"`

	// Aggregates across all research runs in this session
	ResearchRuns    int     `json:"research_runs"`
	TotalTokensUsed int     `json:"total_tokens_used"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

// Exchange is one turn in the session history: either the user's
// research query or the synthesized answer.
type Exchange struct {
	ID        string                 `json:"id"`
	Role      string                 `json:"role"` // "user" or "assistant"
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	TokensUsed int     `json:"tokens_used,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// GetContextValue retrieves a value from the session context
func (s *Session) GetContextValue(key string) (interface{}, bool) {
	if s.Context == nil {
		return nil, false
	}
	val, ok := s.Context[key]
	return val, ok
}

// SetContextValue sets a value in the session context
func (s *Session) SetContextValue(key string, value interface{}) {
	if s.Context == nil {
		s.Context = make(map[string]interface{})
	}
	s.Context[key] = value
	s.UpdatedAt = time.Now()
}

// RecentHistory returns the most recent exchanges, oldest first.
func (s *Session) RecentHistory(count int) []Exchange {
	if len(s.History) <= count {
		return s.History
	}
	return s.History[len(s.History)-count:]
}

// HistorySummary renders recent history for inclusion in an agent
// prompt, newest-first trimming under a rough token ceiling.
func (s *Session) HistorySummary(maxTokens int) string {
	summary := ""
	currentTokens := 0

	for i := len(s.History) - 1; i >= 0; i-- {
		ex := s.History[i]
		// Rough estimate: 1 token per 4 characters
		exTokens := len(ex.Content) / 4

		if currentTokens+exTokens > maxTokens {
			break
		}

		summary = fmt.Sprintf("%s: %s\n", ex.Role, ex.Content) + summary
		currentTokens += exTokens
	}

	return summary
}

// RecordRun folds one completed research run into the session totals.
func (s *Session) RecordRun(tokens int, cost float64) {
	s.ResearchRuns++
	s.TotalTokensUsed += tokens
	s.TotalCostUSD += cost
	s.UpdatedAt = time.Now()
}
