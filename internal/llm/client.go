package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-ai/orchestrator/internal/circuitbreaker"
	"github.com/finsight-ai/orchestrator/internal/interceptors"
	"github.com/finsight-ai/orchestrator/internal/metrics"
	"github.com/finsight-ai/orchestrator/internal/ratecontrol"
	"github.com/finsight-ai/orchestrator/internal/tracing"
)

// Client talks to the agent-service over HTTP. It carries both external
// capabilities the engine consumes: the completion endpoint (structured
// LLM calls) and the agent endpoint (tool-using question answering).
//
// Callers are expected to tolerate (nil, error) and degrade; the client
// never retries on its own.
type Client struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	cache   *Cache // optional, nil when no cache Redis configured
	logger  *zap.Logger
}

// CompletionRequest is one structured call to POST /agent/completion.
type CompletionRequest struct {
	Instructions string  `json:"instructions"`
	Input        string  `json:"input"`
	ExpectJSON   bool    `json:"expect_json"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature"`
	Component    string  `json:"component"` // for metrics and audit
	Cacheable    bool    `json:"-"`         // deterministic calls may hit the completion cache
}

// CompletionResponse mirrors the agent-service completion payload.
type CompletionResponse struct {
	Success    bool   `json:"success"`
	Response   string `json:"response"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
	Provider   string `json:"provider"`
	Metadata   struct {
		InputTokens  int     `json:"input_tokens"`
		OutputTokens int     `json:"output_tokens"`
		CostUSD      float64 `json:"cost_usd"`
	} `json:"metadata"`
}

// AgentRequest is one call to POST /agent/query.
type AgentRequest struct {
	Query     string                 `json:"query"`
	SessionID string                 `json:"session_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Mode      string                 `json:"mode,omitempty"`
}

// AgentResponse mirrors the agent-service query payload.
type AgentResponse struct {
	Success    bool   `json:"success"`
	Response   string `json:"response"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
	Provider   string `json:"provider"`
	Error      string `json:"error,omitempty"`
}

// NewClient builds a client for the agent-service at baseURL. A nil cache
// disables completion caching.
func NewClient(baseURL string, timeout time.Duration, cache *Cache, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = BaseURLFromEnv()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout()
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: interceptors.NewWorkflowHTTPRoundTripper(nil),
	}
	return &Client{
		baseURL: baseURL,
		http:    circuitbreaker.NewHTTPWrapper(httpClient, "agent-service", "llm-client", logger),
		cache:   cache,
		logger:  logger,
	}
}

// BaseURLFromEnv resolves the agent-service base URL.
func BaseURLFromEnv() string {
	if v := os.Getenv("AGENT_SERVICE_URL"); v != "" {
		return v
	}
	return "http://agent-service:8000"
}

// DefaultTimeout resolves the outbound call timeout, overridable via
// LLM_TIMEOUT_SECONDS.
func DefaultTimeout() time.Duration {
	sec := 120
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sec = n
		}
	}
	return time.Duration(sec) * time.Second
}

// Complete issues one completion call. Transport failures, non-2xx
// statuses and undecodable bodies all surface as errors; the caller
// decides the degraded value.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	if c.cache != nil && req.Cacheable {
		if cached, ok := c.cache.Get(ctx, req.Instructions, req.Input); ok {
			metrics.CompletionCacheHits.Inc()
			metrics.RecordCompletionMetrics(req.Component, "cache_hit", time.Since(start).Seconds())
			return cached, nil
		}
		metrics.CompletionCacheMisses.Inc()
	}

	ctx, span := tracing.StartClientSpan(ctx, "agent-service.completion", req.Component)
	defer span.End()

	var out CompletionResponse
	if err := c.post(ctx, "/agent/completion", req, &out); err != nil {
		metrics.RecordCompletionMetrics(req.Component, "error", time.Since(start).Seconds())
		return nil, err
	}
	if !out.Success {
		metrics.RecordCompletionMetrics(req.Component, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("completion unsuccessful for %s", req.Component)
	}

	if c.cache != nil && req.Cacheable {
		c.cache.Put(ctx, req.Instructions, req.Input, &out)
	}
	metrics.RecordCompletionMetrics(req.Component, "ok", time.Since(start).Seconds())
	return &out, nil
}

// Query dispatches one question to the tool-using agent.
func (c *Client) Query(ctx context.Context, req AgentRequest) (*AgentResponse, error) {
	ctx, span := tracing.StartClientSpan(ctx, "agent-service.query", "agent")
	defer span.End()

	var out AgentResponse
	if err := c.post(ctx, "/agent/query", req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		if out.Error != "" {
			return nil, fmt.Errorf("agent query failed: %s", out.Error)
		}
		return nil, fmt.Errorf("agent query unsuccessful")
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	// Token-bucket throttle per outbound host; blocks only within the
	// caller's context deadline.
	if err := ratecontrol.WaitForRequest(ctx, "agent-service", "", 0); err != nil {
		return fmt.Errorf("rate control: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent-service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("HTTP %d from agent-service", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode agent-service response: %w", err)
	}
	return nil
}
