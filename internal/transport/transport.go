// Package transport provides a Bearer-token-authenticated HTTP transport
// that transparently refreshes its token and rebuilds its connection pool
// on a 401 response, retrying the failed request exactly once.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// CredentialSource supplies the current Bearer token. It is always an
// injected interface — never a package-level singleton — so a CLI process
// and its tests can each own an independent credential lifecycle.
type CredentialSource interface {
	CurrentToken(ctx context.Context) (string, error)
}

// Transport is a Bearer-token HTTP client that refreshes its token and
// rebuilds its underlying *http.Client on a 401, then retries the request
// exactly once. Safe for concurrent use.
type Transport struct {
	credentials CredentialSource
	limiter     *rate.Limiter

	mu     sync.Mutex
	client *http.Client
	token  string
}

// Option configures a Transport.
type Option func(*Transport)

// WithRateLimit caps outbound requests per second, e.g. to avoid
// self-inflicted bursts during search bisection fan-out. cmd/satfetch
// builds its transport without this option, so by default no limit is
// applied.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(t *Transport) {
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// New creates a Transport backed by credentials, pre-populating the first
// Bearer token so the very first request is already authenticated.
func New(ctx context.Context, credentials CredentialSource, opts ...Option) (*Transport, error) {
	t := &Transport{
		credentials: credentials,
		client:      &http.Client{},
	}
	for _, opt := range opts {
		opt(t)
	}

	token, err := credentials.CurrentToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: fetch initial token: %w", err)
	}
	t.token = token
	return t, nil
}

// updateAuth refreshes the token and rebuilds the HTTP client so no stale
// pooled connections carry the old Authorization header. Idempotent under
// concurrent callers: the first caller to acquire the mutex does the real
// work; by the time later callers acquire it, t.token already reflects the
// new value and they return immediately without re-authenticating twice.
func (t *Transport) updateAuth(ctx context.Context, staleToken string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != staleToken {
		// another goroutine already refreshed while we waited for the lock
		return nil
	}

	newToken, err := t.credentials.CurrentToken(ctx)
	if err != nil {
		return fmt.Errorf("transport: refresh token: %w", err)
	}
	if newToken == t.token {
		return nil
	}

	t.token = newToken
	t.client = &http.Client{} // drop pooled connections keyed to the old header
	return nil
}

func (t *Transport) currentToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

func (t *Transport) currentClient() *http.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

// do runs req once with the current token, and exactly once more with a
// freshly refreshed token if the first attempt returns 401. Any other
// status code or error is returned to the caller unchanged.
func (t *Transport) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("transport: rate limit wait: %w", err)
		}
	}

	token := t.currentToken()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.currentClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	if err := t.updateAuth(ctx, token); err != nil {
		return nil, err
	}

	retryReq := req.Clone(ctx)
	retryReq.Header.Set("Authorization", "Bearer "+t.currentToken())
	return t.currentClient().Do(retryReq)
}

// Get issues an authenticated GET for url.
func (t *Transport) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	return t.do(ctx, req)
}

// GetRange issues an authenticated byte-range GET starting at offset and
// running to the end of the resource.
func (t *Transport) GetRange(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	return t.do(ctx, req)
}

// Head issues an authenticated HEAD for url. The downloader does not call
// it; transfers start directly with Open or OpenRange.
func (t *Transport) Head(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	return t.do(ctx, req)
}

// Open returns a stream for url, starting from the beginning.
func (t *Transport) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := t.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("transport: GET %s: unexpected status %s", url, resp.Status)
	}
	return resp.Body, nil
}

// OpenRange returns a stream for url starting at the given byte offset.
func (t *Transport) OpenRange(ctx context.Context, url string, offset int64) (io.ReadCloser, error) {
	resp, err := t.GetRange(ctx, url, offset)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("transport: GET %s (range): unexpected status %s", url, resp.Status)
	}
	return resp.Body, nil
}
