// Package sandbox is the client for the external code-execution service.
// Untrusted code never runs in this process.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/edforge/mentor/internal/model"
)

// Result is one execution outcome. Status is ExecUnknown when the
// service could not be reached; callers treat that as "no observation".
type Result struct {
	Status   model.ExecStatus `json:"status"`
	Stdout   string           `json:"stdout"`
	Stderr   string           `json:"stderr"`
	ExitCode *int             `json:"exit_code"`
}

// Passed reports execution success as a tri-state: nil when unknown.
func (r Result) Passed() *bool {
	if r.Status == model.ExecUnknown {
		return nil
	}
	ok := r.Status == model.ExecOK
	return &ok
}

// Client calls the sandbox runner over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// DefaultTimeout bounds one run: the sandbox's own 5 s wall-clock limit
// plus transport headroom.
const DefaultTimeout = 7 * time.Second

// New returns a sandbox client. An empty baseURL disables execution;
// Run then always reports ExecUnknown.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type runRequest struct {
	Code  string `json:"code"`
	Stdin string `json:"stdin"`
}

type runResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exit_code"`
	Status   string `json:"status"`
}

// Run executes code with the given stdin. It never returns an error for
// sandbox unavailability; that degrades to ExecUnknown so the pipeline
// can continue.
func (c *Client) Run(ctx context.Context, code, stdin string) Result {
	if c.baseURL == "" {
		return Result{Status: model.ExecUnknown}
	}

	body, err := json.Marshal(runRequest{Code: code, Stdin: stdin})
	if err != nil {
		slog.Error("sandbox request encode failed", "error", err)
		return Result{Status: model.ExecUnknown}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return Result{Status: model.ExecUnknown}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("sandbox call timed out")
		} else {
			slog.Warn("sandbox unreachable", "error", err)
		}
		return Result{Status: model.ExecUnknown}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("sandbox error response", "status", resp.StatusCode)
		return Result{Status: model.ExecUnknown}
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		slog.Warn("sandbox response decode failed", "error", err)
		return Result{Status: model.ExecUnknown}
	}

	status := model.ExecStatus(out.Status)
	switch status {
	case model.ExecOK, model.ExecRTE, model.ExecTLE:
	default:
		status = model.ExecUnknown
	}
	return Result{
		Status:   status,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
	}
}
