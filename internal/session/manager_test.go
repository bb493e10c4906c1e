package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()

	mr := miniredis.RunT(t)
	mgr, err := NewManager(mr.Addr(), opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestGetOrCreateSessionRoundTrip(t *testing.T) {
	mgr := newTestManager(t, Options{})
	ctx := context.Background()

	s, err := mgr.GetOrCreateSession(ctx, "research-42")
	require.NoError(t, err)
	require.Equal(t, "research-42", s.ID)
	require.Empty(t, s.History)

	// Second call returns the existing session, not a fresh one
	again, err := mgr.GetOrCreateSession(ctx, "research-42")
	require.NoError(t, err)
	require.Equal(t, s.CreatedAt.Unix(), again.CreatedAt.Unix())
}

func TestGetOrCreateSessionGeneratesID(t *testing.T) {
	mgr := newTestManager(t, Options{})

	s, err := mgr.GetOrCreateSession(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
}

func TestRecordResultAppendsHistoryAndTotals(t *testing.T) {
	mgr := newTestManager(t, Options{})
	ctx := context.Background()

	err := mgr.RecordResult(ctx, "sess-1", "What was Tesla's 2023 revenue?", "Tesla reported $96.8B revenue in 2023.", 1200, 0.034)
	require.NoError(t, err)

	s, err := mgr.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, s.History, 2)
	require.Equal(t, "user", s.History[0].Role)
	require.Equal(t, "assistant", s.History[1].Role)
	require.Equal(t, 1200, s.History[1].TokensUsed)
	require.Equal(t, 1, s.ResearchRuns)
	require.Equal(t, 1200, s.TotalTokensUsed)
	require.InDelta(t, 0.034, s.TotalCostUSD, 1e-9)

	// A second run accumulates
	require.NoError(t, mgr.RecordResult(ctx, "sess-1", "And Ford?", "Ford reported $176.2B.", 800, 0.02))
	s, err = mgr.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, s.History, 4)
	require.Equal(t, 2, s.ResearchRuns)
	require.Equal(t, 2000, s.TotalTokensUsed)
}

func TestAddExchangeTrimsHistory(t *testing.T) {
	mgr := newTestManager(t, Options{MaxHistory: 4})
	ctx := context.Background()

	_, err := mgr.GetOrCreateSession(ctx, "sess-trim")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, mgr.AddExchange(ctx, "sess-trim", Exchange{Role: "user", Content: "q"}))
	}

	s, err := mgr.GetSession(ctx, "sess-trim")
	require.NoError(t, err)
	require.Len(t, s.History, 4)
}

func TestGetSessionNotFound(t *testing.T) {
	mgr := newTestManager(t, Options{})

	_, err := mgr.GetSession(context.Background(), "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExpiredSessionRejected(t *testing.T) {
	mgr := newTestManager(t, Options{TTL: time.Hour})
	ctx := context.Background()

	s, err := mgr.GetOrCreateSession(ctx, "sess-old")
	require.NoError(t, err)

	s.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, mgr.UpdateSession(ctx, s))

	_, err = mgr.GetSession(ctx, "sess-old")
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestHistorySummaryOrdersOldestFirst(t *testing.T) {
	s := &Session{
		History: []Exchange{
			{Role: "user", Content: "first question"},
			{Role: "assistant", Content: "first answer"},
			{Role: "user", Content: "second question"},
		},
	}

	summary := s.HistorySummary(1000)
	require.Contains(t, summary, "user: first question")
	require.Less(t,
		strings.Index(summary, "first question"),
		strings.Index(summary, "second question"),
	)
}
