// Package client holds the HTTP clients for the order and payment services.
//
// Clients surface failed exchanges as *StatusError so handlers can classify
// them (404/409/400/422 permanent, 408/429/5xx retryable). Transport errors
// come back as ordinary wrapped errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "taskd/pkg/logx"
)

const (
	defaultTimeout = 30 * time.Second

	// Response bodies are captured for diagnostics but bounded.
	maxErrorBody = 8 << 10
)

// StatusError is a non-2xx response from a remote service.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Service, e.Code, truncate(e.Body, 200))
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type httpClient struct {
	service string
	base    string
	hc      *http.Client
	log     logx.Logger
}

func newHTTPClient(service string, cfg Config, log logx.Logger) httpClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return httpClient{
		service: service,
		base:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		hc:      &http.Client{Timeout: timeout},
		log:     log.With(logx.String("client", service)),
	}
}

// postJSON sends a JSON body and decodes a JSON response into out.
// Non-2xx statuses return *StatusError with the (bounded) response body.
func (c httpClient) postJSON(ctx context.Context, path string, in, out any) error {
	if c.base == "" {
		return fmt.Errorf("%s: base URL not configured", c.service)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", c.service, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.service, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.service, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Service: c.service, Code: resp.StatusCode, Body: string(raw)}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", c.service, err)
		}
	}
	return nil
}

func (c httpClient) getJSON(ctx context.Context, path string, out any) error {
	if c.base == "" {
		return fmt.Errorf("%s: base URL not configured", c.service)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.service, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Service: c.service, Code: resp.StatusCode, Body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", c.service, err)
		}
	}
	return nil
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
