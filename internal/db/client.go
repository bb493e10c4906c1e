package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/circuitbreaker"
	"github.com/finsight-ai/orchestrator/internal/metrics"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client manages the research archive database
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	config *Config

	// Write queue for async archival
	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

// WriteRequest represents an async archive write
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeResearchRun WriteType = iota
	WriteTypeAuditEvent
)

// String returns the string representation of WriteType
func (wt WriteType) String() string {
	switch wt {
	case WriteTypeResearchRun:
		return "ResearchRun"
	case WriteTypeAuditEvent:
		return "AuditEvent"
	default:
		return "Unknown"
	}
}

// NewClient creates a new archive client with connection pool
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	rawDB, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	// Circuit breaker wrapped database
	db := circuitbreaker.NewDatabaseWrapper(rawDB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{
		db:         db,
		logger:     logger,
		config:     config,
		writeQueue: make(chan WriteRequest, 1000),
		workers:    4,
		stopCh:     make(chan struct{}),
	}

	client.startWorkers()
	go client.healthCheck()

	logger.Info("Archive client initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
		zap.Int("workers", client.workers),
	)

	return client, nil
}

// NewClientWithDB wraps an existing sqlx handle; used by tests.
func NewClientWithDB(db *sqlx.DB, logger *zap.Logger) *Client {
	client := &Client{
		db:         circuitbreaker.NewDatabaseWrapper(db, logger),
		logger:     logger,
		writeQueue: make(chan WriteRequest, 100),
		workers:    1,
		stopCh:     make(chan struct{}),
	}
	client.startWorkers()
	return client
}

func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

// writeWorker processes archive writes from the queue
func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	c.logger.Debug("Archive write worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Info("Archive write worker stopped", zap.Int("worker_id", id))
			return

		case req := <-c.writeQueue:
			metrics.ArchiveQueueDepth.Set(float64(len(c.writeQueue)))
			c.processWrite(req)
		}
	}
}

// processWrite handles a single write request
func (c *Client) processWrite(req WriteRequest) {
	var err error

	switch req.Type {
	case WriteTypeResearchRun:
		if run, ok := req.Data.(*ResearchRun); ok {
			err = c.SaveResearchRun(context.Background(), run)
		} else {
			err = fmt.Errorf("unexpected payload %T for %s", req.Data, req.Type)
		}
	case WriteTypeAuditEvent:
		if event, ok := req.Data.(*AuditEvent); ok {
			err = c.SaveAuditEvent(context.Background(), event)
		} else {
			err = fmt.Errorf("unexpected payload %T for %s", req.Data, req.Type)
		}
	}

	status := "ok"
	if err != nil {
		status = "error"
		c.logger.Error("Failed to process archive write",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
	metrics.ArchiveWrites.WithLabelValues(req.Type.String(), status).Inc()

	if req.Callback != nil {
		req.Callback(err)
	}
}

// drainQueue processes remaining requests during shutdown
func (c *Client) drainQueue() {
	timeout := time.After(10 * time.Second)

	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining archive write queue")
			return
		default:
			return
		}
	}
}

// QueueWrite adds a write request to the async queue. When the queue is
// full the write happens synchronously rather than being dropped.
func (c *Client) QueueWrite(writeType WriteType, data interface{}, callback func(error)) error {
	req := WriteRequest{Type: writeType, Data: data, Callback: callback}

	select {
	case c.writeQueue <- req:
		metrics.ArchiveQueueDepth.Set(float64(len(c.writeQueue)))
		return nil
	default:
		c.logger.Warn("Archive write queue is full, falling back to synchronous write",
			zap.String("type", writeType.String()))
		c.processWrite(req)
		return nil
	}
}

// healthCheck periodically checks database connectivity
func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Archive health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Close gracefully shuts down the archive client
func (c *Client) Close() error {
	c.logger.Info("Shutting down archive client")

	close(c.stopCh)
	c.workerWg.Wait()

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	c.logger.Info("Archive client closed")
	return nil
}

// Wrapper returns the underlying DatabaseWrapper for health checks
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}
