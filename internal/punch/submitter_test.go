package punch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-punch/config"
	"attendance-punch/internal/credential"
)

const bearerName = credential.DefaultBearerName

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Add(-time.Hour).Unix(),
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// mockRefresher is a mock implementation of the SessionRefresher interface.
type mockRefresher struct {
	calls     atomic.Int32
	FetchFunc func(ctx context.Context) (credential.Set, error)
}

func (m *mockRefresher) FetchSessionCookies(ctx context.Context) (credential.Set, error) {
	m.calls.Add(1)
	return m.FetchFunc(ctx)
}

// memCredentialStore is an in-memory CredentialStore.
type memCredentialStore struct {
	mu      sync.Mutex
	set     credential.Set
	saved   []credential.Set
	loadErr error
}

func (m *memCredentialStore) LoadCredentials(context.Context) (credential.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.set.Clone(), nil
}

func (m *memCredentialStore) SaveCredentials(_ context.Context, set credential.Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = set.Clone()
	m.saved = append(m.saved, set.Clone())
	return nil
}

func (m *memCredentialStore) SetCredential(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set == nil {
		m.set = credential.Set{}
	}
	m.set[name] = value
	return nil
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Endpoint.PunchURL = url
	cfg.Service.MaxRetries = 2
	cfg.Service.Timeout = 2 * time.Second
	cfg.Service.RetrySpacing = 0
	return cfg
}

// capture records what each punch request carried.
type capture struct {
	mu       sync.Mutex
	cookies  []map[string]string
	bodies   []string
	headers  []http.Header
	attempts atomic.Int32
}

func (c *capture) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	jar := map[string]string{}
	for _, ck := range r.Cookies() {
		jar[ck.Name] = ck.Value
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append(c.cookies, jar)
	c.bodies = append(c.bodies, string(body))
	c.headers = append(c.headers, r.Header.Clone())
	c.attempts.Add(1)
}

func TestSubmit_ExpiredTokenMakesNoCalls(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewSubmitter(testConfig(server.URL), nil, nil, zerolog.Nop())
	creds := credential.Set{bearerName: mintToken(t, time.Now().Add(-time.Second))}

	out := s.Submit(context.Background(), CheckIn, creds)

	assert.Equal(t, TagAuthExpired, out.Tag)
	assert.True(t, out.CredentialProblem)
	assert.Zero(t, out.Attempts)
	assert.Zero(t, calls.Load())
	assert.Contains(t, out.Detail, "expired at")
	assert.ErrorIs(t, out.Err(), ErrAuthExpired)
}

func TestSubmit_MissingBearerMakesNoCalls(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	s := NewSubmitter(testConfig(server.URL), nil, nil, zerolog.Nop())
	out := s.Submit(context.Background(), CheckOut, credential.Set{"other": "x"})

	assert.Equal(t, TagAuthExpired, out.Tag)
	assert.Zero(t, calls.Load())
	assert.Contains(t, out.Detail, "No bearer token")
}

func TestSubmit_Success(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	token := mintToken(t, time.Now().Add(time.Hour))
	s := NewSubmitter(testConfig(server.URL), nil, nil, zerolog.Nop())
	out := s.Submit(context.Background(), CheckIn, credential.Set{bearerName: token, "LoggedInDomain": "example.com"})

	require.Equal(t, TagSuccess, out.Tag)
	assert.True(t, out.Success())
	assert.NoError(t, out.Err())
	assert.Equal(t, map[string]any{"ok": true}, out.Payload)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, 1, out.Attempts)
	assert.False(t, out.CredentialProblem)
	assert.NotEmpty(t, out.SubmissionID)

	require.Len(t, c.bodies, 1)
	assert.JSONEq(t, `{"AttendanceType":1,"IsOverride":false}`, c.bodies[0])
	assert.Equal(t, token, c.cookies[0][bearerName])
	assert.Equal(t, "example.com", c.cookies[0]["LoggedInDomain"])
	assert.Equal(t, "PunchCard", c.headers[0].Get("Functioncode"))
}

func TestSubmit_SuccessWithTextBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("punched"))
	}))
	defer server.Close()

	s := NewSubmitter(testConfig(server.URL), nil, nil, zerolog.Nop())
	out := s.Submit(context.Background(), CheckOut, credential.Set{bearerName: mintToken(t, time.Now().Add(time.Hour))})

	require.Equal(t, TagSuccess, out.Tag)
	assert.Equal(t, "punched", out.Payload)
}

func TestSubmit_UnauthorizedEveryAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	refresher := &mockRefresher{FetchFunc: func(context.Context) (credential.Set, error) {
		return credential.Set{"ASP.NET_SessionId": "fresh"}, nil
	}}
	s := NewSubmitter(testConfig(server.URL), nil, refresher, zerolog.Nop())
	out := s.Submit(context.Background(), CheckIn, credential.Set{bearerName: mintToken(t, time.Now().Add(time.Hour))})

	assert.Equal(t, TagAuthRejected, out.Tag)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 2, out.Refreshes)
	assert.Equal(t, int32(2), refresher.calls.Load())
	assert.Equal(t, http.StatusUnauthorized, out.StatusCode)
	assert.True(t, out.CredentialProblem)
	assert.ErrorIs(t, out.Err(), ErrAuthRejected)
}

func TestSubmit_RetryBound(t *testing.T) {
	for _, n := range []int{0, 1, 4} {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))

		cfg := testConfig(server.URL)
		cfg.Service.MaxRetries = n
		s := NewSubmitter(cfg, nil, nil, zerolog.Nop())
		out := s.Submit(context.Background(), CheckIn, credential.Set{bearerName: mintToken(t, time.Now().Add(time.Hour))})
		server.Close()

		assert.Equal(t, int32(n+1), calls.Load(), "max_retries=%d", n)
		assert.Equal(t, n, out.Refreshes, "max_retries=%d", n)
	}
}

func TestSubmit_RefreshPreservesBearer(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		if c.attempts.Load() == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	token := mintToken(t, time.Now().Add(time.Hour))
	stored := &memCredentialStore{set: credential.Set{
		bearerName:          token,
		"ASP.NET_SessionId": "stale",
		"LoggedInDomain":    "example.com",
	}}
	refresher := &mockRefresher{FetchFunc: func(context.Context) (credential.Set, error) {
		return credential.Set{
			bearerName:          "minted-by-refresh",
			"ASP.NET_SessionId": "fresh",
			"NewCookie":         "1",
		}, nil
	}}

	s := NewSubmitter(testConfig(server.URL), stored, refresher, zerolog.Nop())
	out := s.Submit(context.Background(), CheckIn, s.LoadCredentials(context.Background()))

	require.Equal(t, TagSuccess, out.Tag)
	require.Len(t, c.cookies, 2)
	for _, jar := range c.cookies {
		assert.Equal(t, token, jar[bearerName])
	}
	assert.Equal(t, "fresh", c.cookies[1]["ASP.NET_SessionId"])
	assert.Equal(t, "1", c.cookies[1]["NewCookie"])
	assert.Equal(t, "example.com", c.cookies[1]["LoggedInDomain"])

	require.Len(t, stored.saved, 1)
	assert.Equal(t, token, stored.saved[0][bearerName])
	assert.Equal(t, "fresh", stored.saved[0]["ASP.NET_SessionId"])
}

func TestSubmit_RefreshFailureFallsBackToDefaults(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		if c.attempts.Load() == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	refresher := &mockRefresher{FetchFunc: func(context.Context) (credential.Set, error) {
		return nil, errors.New("site down")
	}}
	token := mintToken(t, time.Now().Add(time.Hour))
	s := NewSubmitter(testConfig(server.URL), nil, refresher, zerolog.Nop())
	out := s.Submit(context.Background(), CheckIn, credential.Set{bearerName: token, "Custom": "x"})

	require.Equal(t, TagSuccess, out.Tag)
	require.Len(t, c.cookies, 2)
	assert.Equal(t, token, c.cookies[1][bearerName])
	assert.Equal(t, "apollo.mayohr.com", c.cookies[1]["LoggedInDomain"])
	assert.NotContains(t, c.cookies[1], "Custom")
}

func TestSubmit_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	s := NewSubmitter(testConfig(server.URL), nil, nil, zerolog.Nop())
	out := s.Submit(context.Background(), CheckIn, credential.Set{bearerName: mintToken(t, time.Now().Add(time.Hour))})

	assert.Equal(t, TagTransient, out.Tag)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "HTTP 500: boom", out.Detail)
	assert.False(t, out.CredentialProblem)
	assert.ErrorIs(t, out.Err(), ErrUnexpectedStatus)
}

func TestSubmit_RedirectToLogin(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Redirect(w, r, "/Account/Login?returnUrl=punch", http.StatusFound)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Service.MaxRetries = 1
	s := NewSubmitter(cfg, nil, nil, zerolog.Nop())
	out := s.Submit(context.Background(), CheckIn, credential.Set{bearerName: mintToken(t, time.Now().Add(time.Hour))})

	assert.Equal(t, TagAuthRejected, out.Tag)
	assert.Equal(t, http.StatusFound, out.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubmit_AuthKeywordInJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"Message":"Login Required"}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Service.MaxRetries = 0
	s := NewSubmitter(cfg, nil, nil, zerolog.Nop())
	out := s.Submit(context.Background(), CheckIn, credential.Set{bearerName: mintToken(t, time.Now().Add(time.Hour))})

	assert.Equal(t, TagAuthRejected, out.Tag)
	assert.Equal(t, 1, out.Attempts)
}

func TestSubmit_ConnectionErrorExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	refresher := &mockRefresher{FetchFunc: func(context.Context) (credential.Set, error) {
		return credential.Set{}, nil
	}}
	s := NewSubmitter(testConfig(url), nil, refresher, zerolog.Nop())
	out := s.Submit(context.Background(), CheckIn, credential.Set{bearerName: mintToken(t, time.Now().Add(time.Hour))})

	assert.Equal(t, TagExhaustedRetries, out.Tag)
	assert.Equal(t, 3, out.Attempts)
	assert.Zero(t, out.StatusCode)
	assert.Contains(t, out.Detail, "Connection error")
	assert.Zero(t, refresher.calls.Load(), "network errors must not trigger a refresh")
	assert.ErrorIs(t, out.Err(), ErrTransientNetwork)
}

func TestSubmit_TimeoutExhaustsRetries(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig(server.URL)
	cfg.Service.MaxRetries = 1
	cfg.Service.Timeout = 50 * time.Millisecond
	s := NewSubmitter(cfg, nil, nil, zerolog.Nop())
	out := s.Submit(context.Background(), CheckIn, credential.Set{bearerName: mintToken(t, time.Now().Add(time.Hour))})

	assert.Equal(t, TagExhaustedRetries, out.Tag)
	assert.Equal(t, "Request timeout", out.Detail)
	assert.Equal(t, 2, out.Attempts)
}

func TestSubmit_FinalAuthFailureWithExpiredTokenReportsExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	token := mintToken(t, time.Now().Add(time.Hour))
	s := NewSubmitter(testConfig(server.URL), nil, nil, zerolog.Nop())
	// The clock moves past expiry after the pre-check passed.
	var checks atomic.Int32
	s.evaluator.Now = func() time.Time {
		if checks.Add(1) == 1 {
			return time.Now()
		}
		return time.Now().Add(2 * time.Hour)
	}

	out := s.Submit(context.Background(), CheckIn, credential.Set{bearerName: token})

	assert.Equal(t, TagAuthExpired, out.Tag)
	assert.Equal(t, http.StatusUnauthorized, out.StatusCode)
	assert.Equal(t, 3, out.Attempts)
}

func TestSubmitter_LoadCredentials(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.Authentication.ModuleSessionCookie = "default-bearer"

	t.Run("stored bundle", func(t *testing.T) {
		stored := &memCredentialStore{set: credential.Set{bearerName: "stored"}}
		s := NewSubmitter(cfg, stored, nil, zerolog.Nop())
		assert.Equal(t, credential.Set{bearerName: "stored"}, s.LoadCredentials(context.Background()))
	})

	t.Run("empty store uses defaults", func(t *testing.T) {
		s := NewSubmitter(cfg, &memCredentialStore{}, nil, zerolog.Nop())
		set := s.LoadCredentials(context.Background())
		assert.Equal(t, "default-bearer", set[bearerName])
		assert.Equal(t, "Ok", set["__ModuleSessionCookie2"])
	})

	t.Run("unreadable store uses defaults", func(t *testing.T) {
		s := NewSubmitter(cfg, &memCredentialStore{loadErr: errors.New("disk gone")}, nil, zerolog.Nop())
		assert.Equal(t, "default-bearer", s.LoadCredentials(context.Background())[bearerName])
	})
}

func TestSubmitter_Reconfigure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	s := NewSubmitter(cfg, nil, nil, zerolog.Nop())

	next := testConfig(server.URL)
	next.Service.MaxRetries = 0
	s.Reconfigure(next)

	s.Submit(context.Background(), CheckIn, credential.Set{bearerName: mintToken(t, time.Now().Add(time.Hour))})
	assert.Equal(t, int32(1), calls.Load())
}
