// Package backend talks to the remote service API that synced form records
// are submitted to.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
)

// submitPath is the backend endpoint that accepts one form submission.
const submitPath = "/servico_set"

// maxErrorBodySize caps how much of a rejection body is kept for the error.
const maxErrorBodySize = 512

// ErrRejected marks a submission the backend answered with a non-2xx status.
// Match with errors.Is; use errors.As with *RejectedError for the status.
var ErrRejected = errors.New("submission rejected by backend")

// RejectedError carries the backend's refusal.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Submitter is the part of the client the reconciler depends on.
type Submitter interface {
	SubmitForm(ctx context.Context, chave string, dados map[string]any) (int64, error)
}

// Client is the HTTP client for the backend service API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the configured backend.
func NewClient(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		baseURL: cfg.BackendBaseURL(),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// submitRequest is the wire shape of one submission.
type submitRequest struct {
	JSONDados map[string]any `json:"json_dados"`
	Chave     string         `json:"chave"`
}

// submitResponse is the accepted-submission reply.
type submitResponse struct {
	InsertID int64 `json:"insertId"`
}

// SubmitForm posts one form submission keyed by its chave and returns the
// server-assigned record ID. A non-2xx reply is a *RejectedError; transport
// and decode failures are returned as-is for the caller to retry later.
func (c *Client) SubmitForm(ctx context.Context, chave string, dados map[string]any) (int64, error) {
	payload, err := json.Marshal(submitRequest{JSONDados: dados, Chave: chave})
	if err != nil {
		return 0, fmt.Errorf("marshal submission %s: %w", chave, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("request creation failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return 0, &RejectedError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var accepted submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return 0, fmt.Errorf("decode submission reply for %s: %w", chave, err)
	}
	return accepted.InsertID, nil
}

// Ping reports whether the backend is reachable. Any HTTP reply counts,
// whatever its status; only transport failures mean offline.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

var _ Submitter = (*Client)(nil)
