package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper guards an http.Client with a circuit breaker. The orchestrator
// uses it for every call to the agent service so a dead backend fails fast
// instead of stacking up three-minute timeouts.
type HTTPWrapper struct {
	client  *http.Client
	cb      *CircuitBreaker
	name    string
	service string
	logger  *zap.Logger
}

// NewHTTPWrapper builds a wrapper with its own breaker instance and registers
// it with the metrics collector under name/service.
func NewHTTPWrapper(client *http.Client, name, service string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	cb := NewCircuitBreaker(name, httpBreakerConfig(), logger)
	observeBreaker(name, service, cb)
	return &HTTPWrapper{client: client, cb: cb, name: name, service: service, logger: logger}
}

// Do sends the request through the breaker. 5xx responses count against the
// failure threshold but the response is still handed back to the caller with
// a nil error so status-code handling stays in one place; 4xx responses never
// trip the breaker.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var doErr error
		resp, doErr = hw.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return &serverStatusError{code: resp.StatusCode}
		}
		return nil
	})

	recordRequest(hw.name, hw.service, hw.cb.State(), err == nil)

	if _, server5xx := err.(*serverStatusError); server5xx {
		return resp, nil
	}
	return resp, err
}

// serverStatusError exists only so 5xx responses feed the breaker's failure
// count; it never escapes Do.
type serverStatusError struct{ code int }

func (e *serverStatusError) Error() string { return http.StatusText(e.code) }
