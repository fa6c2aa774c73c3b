package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// ErrSyncFailure marks a transient sync failure. Entries stay queued and are
// retried on a later flush.
var ErrSyncFailure = errors.New("queue: sync failure")

// Syncer delivers one submission payload to the backend of record.
// Implementations must be idempotent per session id: delivering the same
// payload twice must not create a duplicate record.
type Syncer interface {
	Sync(ctx context.Context, p Payload) error
}

// HTTPSyncer posts payloads as JSON to a fixed endpoint.
type HTTPSyncer struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPSyncer creates a syncer posting to endpoint with a bounded timeout.
func NewHTTPSyncer(endpoint string, timeout time.Duration) *HTTPSyncer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSyncer{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (h *HTTPSyncer) Sync(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.submissionURL(p.SessionID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("queue: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailure, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Backend already holds this submission. Treat as delivered.
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: endpoint returned %d", ErrSyncFailure, resp.StatusCode)
	default:
		return fmt.Errorf("queue: endpoint rejected submission: status %d", resp.StatusCode)
	}
}

// submissionURL keys the resource by session id so retries overwrite instead
// of duplicating.
func (h *HTTPSyncer) submissionURL(sessionID string) string {
	return fmt.Sprintf("%s/%s", h.Endpoint, sessionID)
}

// SpoolSyncer writes each payload atomically to <dir>/<sessionID>.json.
// Rewriting an existing file is the idempotent replay case.
type SpoolSyncer struct {
	Dir string
}

func NewSpoolSyncer(dir string) (*SpoolSyncer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("queue: create spool dir: %w", err)
	}
	return &SpoolSyncer{Dir: dir}, nil
}

func (s *SpoolSyncer) Sync(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailure, err)
	}
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	path := filepath.Join(s.Dir, p.SessionID+".json")
	if err := renameio.WriteFile(path, body, 0o640); err != nil {
		return fmt.Errorf("%w: write spool file: %v", ErrSyncFailure, err)
	}
	return nil
}
