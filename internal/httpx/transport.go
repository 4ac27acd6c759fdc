// Package httpx implements the network collaborator contract used by the
// session: fetch and post against the vault server, with bounded retries
// for transient failures. TLS setup and connection pooling stay inside
// net/http; nothing here inspects response semantics beyond status codes.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/avoronov/lastvault/internal/common"
)

const userAgent = "lastvault/1.0"

// Transport is the wire contract consumed by the session layer.
type Transport interface {
	// Fetch performs a GET with query parameters.
	Fetch(ctx context.Context, path string, params url.Values) ([]byte, error)
	// Post performs a form-encoded POST.
	Post(ctx context.Context, path string, form url.Values) ([]byte, error)
}

// HTTPTransport talks to a vault server over HTTPS.
type HTTPTransport struct {
	base   string
	client *http.Client
}

// New returns a transport for the given server host (e.g. "vault.example.com").
// A host may carry an explicit scheme, which is how tests point the
// transport at a local listener. timeout bounds each individual request
// attempt.
func New(host string, timeout time.Duration) *HTTPTransport {
	base := strings.TrimSuffix(host, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &HTTPTransport{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := t.base + "/" + strings.TrimPrefix(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return t.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
}

func (t *HTTPTransport) Post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	u := t.base + "/" + strings.TrimPrefix(path, "/")
	body := form.Encode()
	return t.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// do runs one request, retrying rate-limit responses with capped
// exponential backoff. Connection-level failures are not retried here;
// the session layer owns that policy.
func (t *HTTPTransport) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var out []byte

	backoff := retry.WithMaxRetries(2, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := build()
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := t.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrNetwork, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			out, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("%w: reading response: %v", common.ErrNetwork, err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(
				fmt.Errorf("%w: rate limited (HTTP 429)", common.ErrNetwork))
		default:
			return fmt.Errorf("%w: HTTP %d", common.ErrNetwork, resp.StatusCode)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
