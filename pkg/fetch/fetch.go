// Package fetch defines the abstract fetch provider contract of spec §4.5
// ("open(url, if_modified_since) -> stream | NotModified | Error") and a
// default HTTP-backed implementation with exponential backoff.
//
// The core itself only depends on the Provider interface; RCC supplies the
// URL shape, caching rule, and retry count, and the provider supplies the
// bytes — exactly the split spec §4.5 describes. The retry/backoff
// behavior is grounded on github.com/cenkalti/backoff/v4, a direct
// dependency of DataDog-datadog-agent in the retrieval pack; the plain
// net/http client style (no custom transport pooling) follows
// github/github.go's fetchReleases/uploadAsset in the teacher repository,
// generalized from one-shot calls to a retried, conditional-GET fetch.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pkgcore/pkgcore/pkgerr"
)

// Provider is the abstract fetcher the core depends on (spec §4.5).
type Provider interface {
	// Open fetches url. If ifModifiedSince is non-zero and the provider
	// can determine the remote resource has not changed since then, it
	// returns notModified=true and a nil body.
	Open(ctx context.Context, url string, ifModifiedSince time.Time) (body io.ReadCloser, notModified bool, err error)
}

// HTTPProvider is the default Provider: net/http plus exponential backoff.
// Retries start at 1s, capped at MaxRetries retries (default 3) and
// bounded by Timeout (default 30s total), per spec §4.5.
type HTTPProvider struct {
	Client     *http.Client
	MaxRetries uint64
	Timeout    time.Duration
	Token      string // optional bearer/token auth, e.g. for GitHub Releases
}

// NewHTTPProvider returns a provider configured with the retry defaults of
// spec §4.5 (3 retries, 30s total timeout).
func NewHTTPProvider() *HTTPProvider {
	return &HTTPProvider{Client: http.DefaultClient, MaxRetries: 3, Timeout: 30 * time.Second}
}

func (p *HTTPProvider) Open(ctx context.Context, url string, ifModifiedSince time.Time) (io.ReadCloser, bool, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxRetries := p.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)

	var (
		body        io.ReadCloser
		notModified bool
	)
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(pkgerr.New(pkgerr.IO, "fetch: building request", err))
		}
		if p.Token != "" {
			req.Header.Set("Authorization", "token "+p.Token)
		}
		if !ifModifiedSince.IsZero() {
			req.Header.Set("If-Modified-Since", ifModifiedSince.UTC().Format(http.TimeFormat))
		}

		resp, err := client.Do(req)
		if err != nil {
			return pkgerr.New(pkgerr.IO, "fetch: request failed", err) // retryable
		}

		switch {
		case resp.StatusCode == http.StatusNotModified:
			resp.Body.Close()
			notModified = true
			return nil
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body = resp.Body
			return nil
		case resp.StatusCode >= 500:
			resp.Body.Close()
			return pkgerr.New(pkgerr.IO, fmt.Sprintf("fetch: server error %d", resp.StatusCode), nil) // retryable
		default:
			resp.Body.Close()
			return backoff.Permanent(pkgerr.New(pkgerr.IO, fmt.Sprintf("fetch: unexpected status %d", resp.StatusCode), nil))
		}
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, false, err
	}
	return body, notModified, nil
}
