// Package punch submits attendance punches and drives the bounded retry loop
// around credential failures.
package punch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"attendance-punch/config"
	"attendance-punch/internal/credential"
	"attendance-punch/internal/store"
)

const maxBodyBytes = 1 << 20

// settings are the per-submission knobs, refreshed by Reconfigure.
type settings struct {
	url            string
	headers        map[string]string
	maxRetries     int
	timeout        time.Duration
	retrySpacing   time.Duration
	defaultCookies credential.Set
	defaultBearer  string
}

func settingsFrom(cfg *config.Config) settings {
	defaults := credential.Set{}
	maps.Copy(defaults, cfg.Authentication.DefaultCookies)
	return settings{
		url:            cfg.Endpoint.PunchURL,
		headers:        maps.Clone(cfg.Endpoint.Headers),
		maxRetries:     cfg.Service.MaxRetries,
		timeout:        cfg.Service.Timeout,
		retrySpacing:   cfg.Service.RetrySpacing,
		defaultCookies: defaults,
		defaultBearer:  cfg.Authentication.ModuleSessionCookie,
	}
}

// Submitter performs punch submissions against the attendance endpoint.
type Submitter struct {
	mu        sync.RWMutex
	settings  settings
	client    *http.Client
	creds     store.CredentialStore
	refresher SessionRefresher
	evaluator credential.Evaluator
	logger    zerolog.Logger
	newID     func() string
}

// NewSubmitter creates a Submitter. creds may be nil, in which case refreshed
// cookies are not persisted.
func NewSubmitter(cfg *config.Config, creds store.CredentialStore, refresher SessionRefresher, logger zerolog.Logger) *Submitter {
	return &Submitter{
		settings:  settingsFrom(cfg),
		client:    &http.Client{Transport: NewTransport(cfg.Endpoint.HTTPProxy, logger), CheckRedirect: noRedirect},
		creds:     creds,
		refresher: refresher,
		evaluator: credential.NewEvaluator(cfg.Authentication.BearerCookie),
		logger:    logger.With().Str("component", "submitter").Logger(),
		newID:     uuid.NewString,
	}
}

// NewTransport returns an HTTP transport, routed through proxy when set.
func NewTransport(proxy string, logger zerolog.Logger) http.RoundTripper {
	if proxy == "" {
		return http.DefaultTransport
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		logger.Warn().Err(err).Str("proxy", proxy).Msg("invalid proxy URL, submitter will not use a proxy")
		return http.DefaultTransport
	}
	return &http.Transport{Proxy: http.ProxyURL(proxyURL)}
}

// noRedirect keeps 3xx responses visible so redirects to a login page can be
// classified.
func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// Reconfigure applies retry, timeout, endpoint and default-bundle settings
// from cfg to subsequent submissions.
func (s *Submitter) Reconfigure(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settingsFrom(cfg)
}

func (s *Submitter) current() settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Evaluator returns the credential evaluator used for pre-checks.
func (s *Submitter) Evaluator() credential.Evaluator {
	return s.evaluator
}

// LoadCredentials reads the stored bundle, falling back to the configured
// default bundle when storage is empty or unreadable.
func (s *Submitter) LoadCredentials(ctx context.Context) credential.Set {
	st := s.current()
	if s.creds != nil {
		set, err := s.creds.LoadCredentials(ctx)
		if err == nil && len(set) > 0 {
			return set
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("cannot load stored credentials, using default cookie bundle")
		}
	}
	return st.defaultCookies.WithBearer(s.evaluator.BearerName, st.defaultBearer)
}

// Submit performs one logical submission of action with creds. It never
// returns a Go error: every failure is reported through the Outcome.
func (s *Submitter) Submit(ctx context.Context, action Action, creds credential.Set) Outcome {
	st := s.current()
	out := Outcome{
		SubmissionID: s.newID(),
		Action:       action,
		StartedAt:    time.Now(),
	}
	log := s.logger.With().
		Str("submission_id", out.SubmissionID).
		Str("action", action.String()).
		Logger()

	finish := func(tag Tag, detail string) Outcome {
		out.Tag = tag
		out.Detail = detail
		out.CredentialProblem = tag == TagAuthExpired || tag == TagAuthRejected
		out.FinishedAt = time.Now()
		ev := log.Info()
		if tag != TagSuccess {
			ev = log.Error()
		}
		ev.Str("outcome", string(tag)).
			Int("status", out.StatusCode).
			Int("attempts", out.Attempts).
			Str("detail", detail).
			Msg("submission finished")
		return out
	}

	if s.evaluator.IsExpired(creds) {
		return finish(TagAuthExpired, s.expiredDetail(creds))
	}
	bearer, _ := s.evaluator.Bearer(creds)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if st.retrySpacing > 0 {
		limiter = rate.NewLimiter(rate.Every(st.retrySpacing), 1)
	}

	maxAttempts := st.maxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		last := attempt == maxAttempts-1
		if err := limiter.Wait(ctx); err != nil {
			return finish(TagExhaustedRetries, fmt.Sprintf("Submission cancelled: %v", err))
		}

		out.Attempts++
		resp, err := s.post(ctx, st, action, creds)
		if err != nil {
			detail := networkDetail(err)
			log.Warn().Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", maxAttempts).
				Msg("punch request failed")
			if !last && ctx.Err() == nil {
				continue
			}
			return finish(TagExhaustedRetries, detail)
		}

		out.StatusCode = resp.status
		log.Info().
			Int("attempt", attempt+1).
			Int("max_attempts", maxAttempts).
			Int("status", resp.status).
			Msg("punch request answered")

		if isAuthFailure(resp) {
			if !last {
				log.Warn().
					Int("attempt", attempt+1).
					Int("max_attempts", maxAttempts).
					Msg("credentials rejected, attempting session refresh")
				creds = s.refresh(ctx, creds, bearer, st)
				out.Refreshes++
				continue
			}
			detail := "Credentials rejected and refresh failed. Bearer token likely needs manual renewal."
			if credential.TokenExpired(bearer, s.evaluatorNow()) {
				detail += " Bearer token is expired - please login again to get a new token."
				return finish(TagAuthExpired, detail)
			}
			return finish(TagAuthRejected, detail)
		}

		if resp.status == http.StatusOK {
			out.Payload = decodePayload(resp.body)
			return finish(TagSuccess, "")
		}

		// Non-auth, non-200 responses are final and not retried.
		return finish(TagTransient, fmt.Sprintf("HTTP %d: %s", resp.status, string(resp.body)))
	}

	return finish(TagExhaustedRetries, "All retry attempts failed")
}

func (s *Submitter) evaluatorNow() time.Time {
	if s.evaluator.Now != nil {
		return s.evaluator.Now()
	}
	return time.Now()
}

func (s *Submitter) expiredDetail(creds credential.Set) string {
	st := s.evaluator.Inspect(creds)
	if st.ExpiresAt != nil {
		return fmt.Sprintf("Bearer token expired at %s. Manual login required for new token.", st.ExpiresAt.Local().Format(time.DateTime))
	}
	if !st.Present {
		return "No bearer token stored. Manual login required for new token."
	}
	return fmt.Sprintf("Bearer token unusable (%s). Manual login required for new token.", st.Error)
}

// refresh tries a non-interactive session refresh. The returned set always
// carries bearer, the token held before the refresh.
func (s *Submitter) refresh(ctx context.Context, creds credential.Set, bearer string, st settings) credential.Set {
	name := s.evaluator.BearerName

	var fresh credential.Set
	err := errors.New("no session refresher configured")
	if s.refresher != nil {
		fresh, err = s.refresher.FetchSessionCookies(ctx)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("session refresh failed, falling back to default cookie bundle")
		return st.defaultCookies.WithBearer(name, bearer)
	}

	base := creds
	if s.creds != nil {
		if stored, err := s.creds.LoadCredentials(ctx); err == nil && len(stored) > 0 {
			base = stored
		}
		persisted := base.Merge(fresh, name)
		if err := s.creds.SaveCredentials(ctx, persisted); err != nil {
			s.logger.Warn().Err(err).Msg("cannot save refreshed cookies")
		} else {
			s.logger.Info().Int("cookies", len(fresh)).Msg("refreshed session cookies saved")
		}
	}
	return base.Merge(fresh, name).WithBearer(name, bearer)
}

type punchPayload struct {
	AttendanceType int  `json:"AttendanceType"`
	IsOverride     bool `json:"IsOverride"`
}

// post issues one punch request.
func (s *Submitter) post(ctx context.Context, st settings, action Action, creds credential.Set) (*response, error) {
	jsonBody, err := json.Marshal(punchPayload{AttendanceType: int(action), IsOverride: false})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, st.url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range st.headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, name := range slices.Sorted(maps.Keys(creds)) {
		req.AddCookie(&http.Cookie{Name: name, Value: creds[name]})
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// networkDetail renders a transport error the way operators expect it.
func networkDetail(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "Request timeout"
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("Connection error: %v", opErr)
	}
	return fmt.Sprintf("Request failed: %v", err)
}
