package bkt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/edforge/mentor/internal/model"
)

// RemoteClient talks to the external mastery service. When the service
// is reachable its value is canonical; when it is not, the local engine
// is authoritative and the next successful contact reconciles
// last-writer-wins.
type RemoteClient struct {
	baseURL string
	http    *http.Client
}

// NewRemoteClient returns a client for the mastery service at baseURL.
// An empty baseURL disables the client; Submit then always reports
// unreachable.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type remoteRequest struct {
	StudentID string    `json:"student_id"`
	Concept   string    `json:"concept"`
	Correct   *bool     `json:"correct"`
	Timestamp time.Time `json:"timestamp"`
}

type remoteResponse struct {
	PMastery float64 `json:"p_mastery"`
}

// Submit forwards one observation. On success it returns the canonical
// mastery value; ok=false means the service was unreachable and the
// caller should use its local value.
func (c *RemoteClient) Submit(ctx context.Context, studentID, concept string, correct *bool, at time.Time) (float64, bool) {
	if c.baseURL == "" {
		return 0, false
	}

	body, err := json.Marshal(remoteRequest{
		StudentID: studentID,
		Concept:   concept,
		Correct:   correct,
		Timestamp: at.UTC(),
	})
	if err != nil {
		slog.Error("mastery request encode failed", "error", err)
		return 0, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return 0, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("mastery service unreachable, using local estimate", "error", err)
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("mastery service error", "status", resp.StatusCode)
		return 0, false
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		slog.Warn("mastery response decode failed", "error", err)
		return 0, false
	}
	return model.Clamp(out.PMastery, 0.01, 0.99), true
}

// Reconcile contacts the service after an outage with a null observation
// and adopts the canonical value it returns; the local estimate is
// overwritten, not sent.
func (c *RemoteClient) Reconcile(ctx context.Context, engine *Engine, studentID, concept string, at time.Time) error {
	p, ok := c.Submit(ctx, studentID, concept, nil, at)
	if !ok {
		return fmt.Errorf("mastery service unreachable")
	}
	engine.SetMastery(studentID, concept, p)
	return nil
}
