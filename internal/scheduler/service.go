package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"attendance-punch/config"
	"attendance-punch/internal/credential"
	"attendance-punch/internal/lifecycle"
	"attendance-punch/internal/notification"
	"attendance-punch/internal/parse"
	"attendance-punch/internal/punch"
	"attendance-punch/internal/store"
)

// Submitter performs one logical punch submission.
type Submitter interface {
	LoadCredentials(ctx context.Context) credential.Set
	Submit(ctx context.Context, action punch.Action, creds credential.Set) punch.Outcome
	Reconfigure(cfg *config.Config)
}

// Alerter persists the operator-facing credential alert.
type Alerter interface {
	Write(reason string) error
	Clear() (bool, error)
}

// Notifier fans alerts out to subscribers.
type Notifier interface {
	Dispatch(alert notification.Alert)
}

// State is the lifecycle state of the loop.
type State int32

const (
	Starting State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Service is the scheduling loop and the process-lifetime state it owns.
type Service struct {
	submitter Submitter
	history   store.PunchLog
	alerts    Alerter
	notifier  Notifier
	evaluator credential.Evaluator
	logger    zerolog.Logger
	rng       *rand.Rand
	now       func() time.Time

	state         atomic.Int32
	reloadPending atomic.Bool
	wake          chan struct{}

	// mu guards the fields below, which the loop writes and Status reads.
	mu          sync.Mutex
	cfg         *config.Config
	pendingCfg  *config.Config
	loc         *time.Location
	schedule    *Schedule
	nextRuns    []time.Time
	builtAt     time.Time
	tally       FailureTally
	lastOutcome *punch.Outcome
	checkedIn   time.Time
}

// NewService creates a Service. history, alerts and notifier may be nil.
func NewService(cfg *config.Config, submitter Submitter, history store.PunchLog, alerts Alerter, notifier Notifier, logger zerolog.Logger) *Service {
	s := &Service{
		submitter: submitter,
		history:   history,
		alerts:    alerts,
		notifier:  notifier,
		evaluator: credential.NewEvaluator(cfg.Authentication.BearerCookie),
		logger:    logger.With().Str("component", "scheduler").Logger(),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:       time.Now,
		wake:      make(chan struct{}, 1),
		cfg:       cfg,
		tally:     FailureTally{Threshold: cfg.Service.EscalationThreshold},
	}
	s.state.Store(int32(Starting))
	return s
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Stop asks the loop to exit after its current iteration. A submission in
// progress is allowed to finish.
func (s *Service) Stop() {
	if s.state.CompareAndSwap(int32(Running), int32(Stopping)) ||
		s.state.CompareAndSwap(int32(Starting), int32(Stopping)) {
		s.signal()
	}
}

// RequestReload asks the loop to rebuild the schedule with fresh random
// minutes at its next iteration. A non-nil cfg replaces the configuration
// first. The failure tally is kept.
func (s *Service) RequestReload(cfg *config.Config) {
	if cfg != nil {
		s.mu.Lock()
		s.pendingCfg = cfg
		s.mu.Unlock()
	}
	s.reloadPending.Store(true)
	s.signal()
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run builds the schedule and checks it every check interval until Stop is
// called or ctx is done. A Stop that arrives before Run returns nil without
// building a schedule.
func (s *Service) Run(ctx context.Context) error {
	if s.state.CompareAndSwap(int32(Stopping), int32(Stopped)) {
		s.logger.Info().Msg("stop requested before start, scheduler not started")
		return nil
	}
	if !s.state.CompareAndSwap(int32(Starting), int32(Running)) {
		return fmt.Errorf("scheduler cannot run from state %s", s.State())
	}
	defer s.state.Store(int32(Stopped))

	s.Rebuild()
	interval := s.checkInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("check_interval", interval).Msg("scheduler started")
	for s.State() == Running {
		if s.reloadPending.Swap(false) {
			s.applyReload()
			if next := s.checkInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}

		s.RunPending(ctx)

		select {
		case <-ctx.Done():
			s.Stop()
		case <-ticker.C:
		case <-s.wake:
		}
	}
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

func (s *Service) checkInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.cfg.Service.CheckInterval; d > 0 {
		return d
	}
	return 30 * time.Second
}

func (s *Service) applyReload() {
	s.mu.Lock()
	cfg := s.pendingCfg
	s.pendingCfg = nil
	if cfg != nil {
		s.cfg = cfg
		s.tally.Threshold = cfg.Service.EscalationThreshold
		s.evaluator = credential.NewEvaluator(cfg.Authentication.BearerCookie)
	}
	s.mu.Unlock()

	if cfg != nil {
		s.submitter.Reconfigure(cfg)
	}
	s.logger.Info().Msg("reload requested, rebuilding schedule")
	s.Rebuild()
}

// Rebuild discards the current schedule and draws a new one.
func (s *Service) Rebuild() {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, err := s.cfg.Service.Location()
	if err != nil {
		s.logger.Warn().Err(err).Msg("using local time for the schedule")
		loc = time.Local
	}
	days, err := parse.ParseWorkdays(s.cfg.Service.Workdays)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring unknown workdays")
	}

	now := s.now().In(loc)
	s.loc = loc
	s.schedule = Build(s.cfg.WorkSchedule, days, s.rng)
	s.nextRuns = make([]time.Time, len(s.schedule.Entries))
	for i, e := range s.schedule.Entries {
		s.nextRuns[i] = e.Next(now)
	}
	s.builtAt = now

	for _, day := range days {
		entries := s.schedule.Day(day)
		ev := s.logger.Info().Str("weekday", day.String())
		for _, e := range entries {
			ev = ev.Str(e.Action.String(), e.Clock())
		}
		ev.Msg("scheduled")
	}
	if len(days) == 0 {
		s.logger.Warn().Msg("no workdays configured, nothing will be submitted")
	}
	s.logger.Info().
		Int("entries", len(s.schedule.Entries)).
		Float64("work_duration_hours", s.cfg.WorkSchedule.WorkDurationHours).
		Msg("random schedule setup completed")
}

// RunPending submits every entry whose time has arrived. Each entry fires at
// most once per occurrence, however late the check runs.
func (s *Service) RunPending(ctx context.Context) {
	for _, e := range s.due() {
		s.execute(ctx, e)
	}
}

func (s *Service) due() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return nil
	}

	now := s.now().In(s.loc)
	var due []Entry
	for i, e := range s.schedule.Entries {
		at := s.nextRuns[i]
		if now.Before(at) {
			continue
		}
		s.nextRuns[i] = e.Next(now)
		if !sameDay(at, now) {
			s.logger.Warn().Str("entry", e.String()).Time("missed", at).Msg("skipping punch missed on an earlier day")
			continue
		}
		due = append(due, e)
	}
	return due
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// execute submits one entry and folds the outcome into the tally.
func (s *Service) execute(ctx context.Context, e Entry) {
	// Shutdown must not cut a submission short.
	ctx = context.WithoutCancel(ctx)
	start := s.now()
	s.logger.Info().Str("action", e.Action.String()).Str("scheduled", e.Clock()).Msg("starting punch")

	s.mu.Lock()
	switch e.Action {
	case punch.CheckIn:
		s.checkedIn = start
	case punch.CheckOut:
		if !s.checkedIn.IsZero() {
			hours := start.Sub(s.checkedIn).Hours()
			s.logger.Info().Str("hours", fmt.Sprintf("%.2f", hours)).Msg("today's work duration")
		}
	}
	s.mu.Unlock()

	out := s.submitter.Submit(ctx, e.Action, s.submitter.LoadCredentials(ctx))
	s.HandleOutcome(ctx, out)
}

// HandleOutcome records out and updates the failure tally, alert marker and
// subscribers accordingly.
func (s *Service) HandleOutcome(ctx context.Context, out punch.Outcome) {
	if s.history != nil {
		if err := s.history.RecordPunch(ctx, out.Record()); err != nil {
			s.logger.Warn().Err(err).Msg("failed to record punch history")
		}
	}

	s.mu.Lock()
	s.lastOutcome = &out
	var (
		prev     int
		escalate bool
		count    int
	)
	if out.Success() {
		prev = s.tally.Success()
	} else {
		escalate = s.tally.Failure()
	}
	count = s.tally.Count()
	s.mu.Unlock()

	if out.Success() {
		s.logger.Info().
			Str("action", out.Action.String()).
			Interface("response", out.Payload).
			Msg("punch successful")
		if prev > 0 {
			s.logger.Info().Int("previous_failures", prev).Msg("credential issues resolved, failure count reset")
		}
		s.clearAlert()
		return
	}

	s.logger.Error().
		Str("action", out.Action.String()).
		Str("outcome", string(out.Tag)).
		Int("consecutive_failures", count).
		Str("detail", out.Detail).
		Msg("punch failed")

	if out.CredentialProblem {
		s.logger.Error().Msg("bearer token needs manual renewal")
		s.logRemediation()
		s.writeAlert(out.Detail)
		s.notify(notification.Alert{
			Title: credentialTitle(out.Tag),
			Body:  out.Detail,
			Tag:   string(out.Tag),
		})
	}

	if escalate {
		s.logger.Error().
			Int("consecutive_failures", count).
			Msg("multiple consecutive punch failures, escalating")
		s.logRemediation()
		s.writeAlert(fmt.Sprintf("%d consecutive punch failures. Last error: %s", count, out.Detail))
		s.notify(notification.Alert{
			Title:     "Attendance punches keep failing",
			Body:      fmt.Sprintf("%d consecutive failures. Last error: %s", count, out.Detail),
			Tag:       "escalated",
			Escalated: true,
		})
	}
}

func credentialTitle(tag punch.Tag) string {
	if tag == punch.TagAuthExpired {
		return "Bearer token expired"
	}
	return "Credentials rejected"
}

func (s *Service) logRemediation() {
	for i, step := range lifecycle.Remediation {
		s.logger.Error().Msgf("   %d. %s", i+1, step)
	}
}

func (s *Service) writeAlert(reason string) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Write(reason); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write alert marker")
	}
}

func (s *Service) clearAlert() {
	if s.alerts == nil {
		return
	}
	removed, err := s.alerts.Clear()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to remove alert marker")
		return
	}
	if removed {
		s.logger.Info().Msg("alert marker removed")
	}
}

func (s *Service) notify(alert notification.Alert) {
	if s.notifier != nil {
		s.notifier.Dispatch(alert)
	}
}

// EntryStatus describes one scheduled entry.
type EntryStatus struct {
	Weekday string    `json:"weekday"`
	Time    string    `json:"time"`
	Action  string    `json:"action"`
	NextRun time.Time `json:"nextRun"`
}

// OutcomeStatus summarizes the most recent submission.
type OutcomeStatus struct {
	SubmissionID string    `json:"submissionId"`
	Action       string    `json:"action"`
	Outcome      string    `json:"outcome"`
	StatusCode   int       `json:"statusCode,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// Status is a point-in-time view of the loop.
type Status struct {
	State           string            `json:"state"`
	ScheduleBuiltAt time.Time         `json:"scheduleBuiltAt"`
	Entries         []EntryStatus     `json:"entries"`
	FailureCount    int               `json:"failureCount"`
	Escalated       bool              `json:"escalated"`
	LastOutcome     *OutcomeStatus    `json:"lastOutcome,omitempty"`
	Token           credential.Status `json:"token"`
}

// Status returns a snapshot of the schedule, the tally and the bearer token.
func (s *Service) Status(ctx context.Context) Status {
	creds := s.submitter.LoadCredentials(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:           s.State().String(),
		ScheduleBuiltAt: s.builtAt,
		Entries:         []EntryStatus{},
		FailureCount:    s.tally.Count(),
		Escalated:       s.tally.Escalated(),
		Token:           s.evaluator.Inspect(creds),
	}
	if s.schedule != nil {
		for i, e := range s.schedule.Entries {
			st.Entries = append(st.Entries, EntryStatus{
				Weekday: strings.ToLower(e.Weekday.String()),
				Time:    e.Clock(),
				Action:  e.Action.String(),
				NextRun: s.nextRuns[i],
			})
		}
	}
	if o := s.lastOutcome; o != nil {
		st.LastOutcome = &OutcomeStatus{
			SubmissionID: o.SubmissionID,
			Action:       o.Action.String(),
			Outcome:      string(o.Tag),
			StatusCode:   o.StatusCode,
			Detail:       o.Detail,
			FinishedAt:   o.FinishedAt,
		}
	}
	return st
}

// FailureCount returns the current consecutive failure count.
func (s *Service) FailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tally.Count()
}

// Escalated reports whether the loop is in the escalated condition.
func (s *Service) Escalated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tally.Escalated()
}
