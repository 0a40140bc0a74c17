// Package client provides a session-aware HTTP agent for talking to the
// auth API. The agent carries both token cookies, and when a request comes
// back 401/403 it runs one shared refresh and retries the original request
// exactly once. Concurrent callers that hit authorization failure inside
// the same window join the refresh already in flight instead of issuing
// their own, so N failing calls produce exactly one refresh request.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

// ErrSessionExpired is the terminal failure after a refresh-and-retry cycle
// could not recover the session. Callers are expected to clear local state
// and send the user back to login.
var ErrSessionExpired = errors.New("session expired")

const defaultRefreshPath = "/api/auth/refresh"

type Agent struct {
	baseURL        string
	httpClient     *http.Client
	refreshPath    string
	refreshTimeout time.Duration

	mu       sync.Mutex
	inflight *refreshAttempt
}

// refreshAttempt is the single-slot in-flight marker. The owner closes done
// after storing err; every waiter observes the same outcome.
type refreshAttempt struct {
	done chan struct{}
	err  error
}

func New(baseURL string) (*Agent, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Agent{
		baseURL: baseURL,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		refreshPath:    defaultRefreshPath,
		refreshTimeout: 10 * time.Second,
	}, nil
}

func (a *Agent) Get(ctx context.Context, path string) (*http.Response, error) {
	return a.Do(ctx, http.MethodGet, path, nil)
}

func (a *Agent) Post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	return a.Do(ctx, http.MethodPost, path, body)
}

// Do performs the request with current credentials. On 401/403 it runs (or
// joins) the shared refresh, then retries once. A second authorization
// failure is returned to the caller as-is; retries are capped at one so a
// persistently broken session cannot loop.
func (a *Agent) Do(ctx context.Context, method string, path string, body []byte) (*http.Response, error) {
	// The refresh endpoint itself never triggers refresh handling.
	if path == a.refreshPath {
		return a.send(ctx, method, path, body)
	}

	resp, err := a.send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	_ = resp.Body.Close()

	if err := a.refresh(ctx); err != nil {
		return nil, err
	}

	return a.send(ctx, method, path, body)
}

// refresh returns the outcome of a refresh attempt, joining one already in
// flight when present. The network call runs under its own finite timeout,
// detached from any single caller's context, so the slot always clears and
// a caller that abandons interest cannot fail the waiters sharing the
// attempt.
func (a *Agent) refresh(ctx context.Context) error {
	a.mu.Lock()
	if att := a.inflight; att != nil {
		a.mu.Unlock()
		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	att := &refreshAttempt{done: make(chan struct{})}
	a.inflight = att
	a.mu.Unlock()

	rctx, cancel := context.WithTimeout(context.Background(), a.refreshTimeout)
	err := a.callRefresh(rctx)
	cancel()

	if err != nil {
		att.err = fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	a.mu.Lock()
	a.inflight = nil
	a.mu.Unlock()
	close(att.done)

	return att.err
}

func (a *Agent) callRefresh(ctx context.Context) error {
	resp, err := a.send(ctx, http.MethodPost, a.refreshPath, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (a *Agent) send(ctx context.Context, method string, path string, body []byte) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return a.httpClient.Do(req)
}
