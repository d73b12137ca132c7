package punch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"attendance-punch/internal/credential"
)

// SessionRefresher fetches fresh non-bearer session cookies. It can never
// mint a new bearer token.
type SessionRefresher interface {
	FetchSessionCookies(ctx context.Context) (credential.Set, error)
}

// ErrNoCookies is returned when a refresh page load set no cookies.
var ErrNoCookies = errors.New("refresh returned no cookies")

// HTTPRefresher loads an unauthenticated page and collects the cookies the
// site sets on the way.
type HTTPRefresher struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// FetchSessionCookies performs the page load.
func (r *HTTPRefresher) FetchSessionCookies(ctx context.Context) (credential.Set, error) {
	target, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh url %q: %w", r.URL, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Transport: r.Transport}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh received status code %d", resp.StatusCode)
	}

	fresh := credential.Set{}
	for _, c := range jar.Cookies(target) {
		fresh[c.Name] = c.Value
	}
	if len(fresh) == 0 {
		return nil, ErrNoCookies
	}
	return fresh, nil
}
