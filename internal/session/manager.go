package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/circuitbreaker"
	"github.com/finsight-ai/orchestrator/internal/metrics"
	"github.com/finsight-ai/orchestrator/internal/util"
)

// maxStoredAnswer caps the assistant content kept per exchange.
const maxStoredAnswer = 8000

// Options tunes the session manager. Zero values fall back to defaults.
type Options struct {
	TTL           time.Duration
	MaxHistory    int
	LocalCacheMax int
}

// Manager handles research session continuity with a Redis backend
type Manager struct {
	client      *circuitbreaker.RedisWrapper
	logger      *zap.Logger
	ttl         time.Duration
	maxHistory  int
	mu          sync.RWMutex
	localCache  map[string]*Session  // Local cache for performance
	cacheAccess map[string]time.Time // Track last access time for LRU
	maxSessions int
}

// NewManager creates a new session manager
func NewManager(redisAddr string, opts Options, logger *zap.Logger) (*Manager, error) {
	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisClient := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Circuit breaker wrapped client
	client := circuitbreaker.NewRedisWrapper(redisClient, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 100
	}
	if opts.LocalCacheMax <= 0 {
		opts.LocalCacheMax = 10000
	}

	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         opts.TTL,
		maxHistory:  opts.MaxHistory,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxSessions: opts.LocalCacheMax,
	}, nil
}

// CreateSession creates a new session with a generated ID
func (m *Manager) CreateSession(ctx context.Context, metadata map[string]interface{}) (*Session, error) {
	return m.createSession(ctx, uuid.New().String(), metadata)
}

// GetOrCreateSession returns the session for sessionID, creating it when
// absent. Research workflows carry caller-chosen session IDs, so the
// first run under an ID establishes the session.
func (m *Manager) GetOrCreateSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return m.CreateSession(ctx, nil)
	}

	existing, err := m.GetSession(ctx, sessionID)
	if err == nil {
		return existing, nil
	}
	if err != ErrSessionNotFound && err != ErrSessionExpired {
		return nil, err
	}
	return m.createSession(ctx, sessionID, nil)
}

func (m *Manager) createSession(ctx context.Context, sessionID string, metadata map[string]interface{}) (*Session, error) {
	session := &Session{
		ID:        sessionID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		ExpiresAt: time.Now().Add(m.ttl),
		Metadata:  metadata,
		Context:   make(map[string]interface{}),
		History:   make([]Exchange, 0),
	}

	if err := m.saveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[sessionID] = session
	m.cacheAccess[sessionID] = time.Now()
	m.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Created new session", zap.String("session_id", sessionID))
	metrics.SessionsCreated.Inc()

	return session, nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	// Check local cache first
	m.mu.RLock()
	if session, ok := m.localCache[sessionID]; ok {
		m.mu.RUnlock()
		metrics.SessionCacheHits.Inc()
		if session.IsExpired() {
			m.DeleteSession(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		m.mu.Lock()
		m.cacheAccess[sessionID] = time.Now()
		m.mu.Unlock()
		return session, nil
	}
	m.mu.RUnlock()
	metrics.SessionCacheMisses.Inc()

	// Load from Redis
	key := m.sessionKey(sessionID)
	data, err := m.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if session.IsExpired() {
		m.DeleteSession(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	m.mu.Lock()
	m.localCache[sessionID] = &session
	m.cacheAccess[sessionID] = time.Now()
	m.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	return &session, nil
}

// UpdateSession updates an existing session
func (m *Manager) UpdateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}

	session.UpdatedAt = time.Now()

	if err := m.saveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[session.ID] = session
	m.mu.Unlock()

	return nil
}

// DeleteSession deletes a session
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	key := m.sessionKey(sessionID)
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	m.mu.Lock()
	delete(m.localCache, sessionID)
	delete(m.cacheAccess, sessionID)
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Deleted session", zap.String("session_id", sessionID))
	return nil
}

// ExtendSession extends the TTL of a session
func (m *Manager) ExtendSession(ctx context.Context, sessionID string, duration time.Duration) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	session.ExpiresAt = time.Now().Add(duration)
	return m.UpdateSession(ctx, session)
}

// AddExchange appends one exchange to session history, trimming to the
// configured history ceiling.
func (m *Manager) AddExchange(ctx context.Context, sessionID string, ex Exchange) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now()
	}
	session.History = append(session.History, ex)

	if len(session.History) > m.maxHistory {
		session.History = session.History[len(session.History)-m.maxHistory:]
	}

	return m.UpdateSession(ctx, session)
}

// RecordResult folds a completed research run into the session: the
// user's query and the synthesized answer become history, and the token
// and cost totals advance.
func (m *Manager) RecordResult(ctx context.Context, sessionID, query, result string, tokens int, cost float64) error {
	session, err := m.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		return err
	}

	// Long reports are truncated before storage; the history feeds
	// prompts, not the archive, and full results live in Postgres.
	now := time.Now()
	session.History = append(session.History,
		Exchange{ID: uuid.New().String(), Role: "user", Content: query, Timestamp: now},
		Exchange{ID: uuid.New().String(), Role: "assistant", Content: util.TruncateString(result, maxStoredAnswer, true), Timestamp: now, TokensUsed: tokens, CostUSD: cost},
	)
	if len(session.History) > m.maxHistory {
		session.History = session.History[len(session.History)-m.maxHistory:]
	}
	session.RecordRun(tokens, cost)

	metrics.RecordSessionTokens(tokens)
	return m.UpdateSession(ctx, session)
}

// UpdateContext updates session context
func (m *Manager) UpdateContext(ctx context.Context, sessionID string, key string, value interface{}) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Context == nil {
		session.Context = make(map[string]interface{})
	}
	session.Context[key] = value

	return m.UpdateSession(ctx, session)
}

// CleanupExpired removes expired sessions
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := m.client.Keys(ctx, "session:*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cleaned := 0
	for _, key := range keys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}

		if session.IsExpired() {
			if err := m.client.Del(ctx, key).Err(); err == nil {
				cleaned++
			}
		}
	}

	m.logger.Info("Cleaned up expired sessions", zap.Int("count", cleaned))
	return cleaned, nil
}

func (m *Manager) sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (m *Manager) saveSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := m.sessionKey(session.ID)
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}

	return m.client.Set(ctx, key, data, ttl).Err()
}

func (m *Manager) cleanupLocalCache() {
	// LRU eviction once the cache exceeds its ceiling
	if len(m.localCache) > m.maxSessions {
		type accessEntry struct {
			id   string
			time time.Time
		}

		entries := make([]accessEntry, 0, len(m.localCache))
		for id := range m.localCache {
			accessTime, exists := m.cacheAccess[id]
			if !exists {
				accessTime = time.Time{}
			}
			entries = append(entries, accessEntry{id: id, time: accessTime})
		}

		// Sort by access time (oldest first)
		for i := 0; i < len(entries)-1; i++ {
			for j := i + 1; j < len(entries); j++ {
				if entries[j].time.Before(entries[i].time) {
					entries[i], entries[j] = entries[j], entries[i]
				}
			}
		}

		toRemove := m.maxSessions / 2
		for i := 0; i < toRemove && i < len(entries); i++ {
			delete(m.localCache, entries[i].id)
			delete(m.cacheAccess, entries[i].id)
			metrics.SessionCacheEvictions.Inc()
		}
	}
}

// Close closes the session manager
func (m *Manager) Close() error {
	return m.client.Close()
}

// RedisWrapper returns the underlying Redis circuit breaker wrapper for health checks
func (m *Manager) RedisWrapper() *circuitbreaker.RedisWrapper {
	return m.client
}
