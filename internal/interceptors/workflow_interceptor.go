package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"
)

// workflowHeaderTransport stamps outgoing agent-service requests with the
// workflow execution identity so agent-side logs correlate with a run.
type workflowHeaderTransport struct {
	base http.RoundTripper
}

// NewWorkflowHTTPRoundTripper wraps base (or http.DefaultTransport) with
// workflow identity header injection.
func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &workflowHeaderTransport{base: base}
}

func (t *workflowHeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.stampHeaders(req)
	return t.base.RoundTrip(req)
}

// stampHeaders adds X-Workflow-ID / X-Run-ID when the request originates
// inside an activity. activity.GetInfo panics outside an activity context
// (unit tests, startup probes), so the lookup is fenced off.
func (t *workflowHeaderTransport) stampHeaders(req *http.Request) {
	defer func() {
		_ = recover()
	}()

	info := activity.GetInfo(req.Context())
	if info.WorkflowExecution.ID == "" {
		return
	}
	req.Header.Set("X-Workflow-ID", info.WorkflowExecution.ID)
	req.Header.Set("X-Run-ID", info.WorkflowExecution.RunID)
}
