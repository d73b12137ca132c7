package punch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"attendance-punch/internal/model"
)

// Action is the attendance event being submitted. Its value is the
// upstream AttendanceType.
type Action int

const (
	CheckIn  Action = 1
	CheckOut Action = 2
)

// String returns the log name of the action.
func (a Action) String() string {
	switch a {
	case CheckIn:
		return "check-in"
	case CheckOut:
		return "check-out"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction accepts the operator spellings of an action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "checkin", "check-in", "in", "1":
		return CheckIn, nil
	case "checkout", "check-out", "out", "2":
		return CheckOut, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Tag classifies a submission outcome.
type Tag string

const (
	TagSuccess          Tag = "success"
	TagAuthExpired      Tag = "auth_expired"
	TagAuthRejected     Tag = "auth_rejected"
	TagTransient        Tag = "transient"
	TagExhaustedRetries Tag = "exhausted_retries"
)

var (
	ErrAuthExpired      = errors.New("bearer token expired")
	ErrAuthRejected     = errors.New("credentials rejected by server")
	ErrTransientNetwork = errors.New("transient network error")
	ErrUnexpectedStatus = errors.New("unexpected http status")
	ErrExhaustedRetries = errors.New("all retry attempts failed")
)

// Outcome is the result of one logical submission.
type Outcome struct {
	Tag               Tag
	SubmissionID      string
	Action            Action
	StatusCode        int // zero when no response was received
	Payload           any // parsed JSON, or the raw text, on success
	Detail            string
	CredentialProblem bool
	Attempts          int // network calls made
	Refreshes         int
	StartedAt         time.Time
	FinishedAt        time.Time
}

// Success reports whether the punch was accepted.
func (o Outcome) Success() bool { return o.Tag == TagSuccess }

// Err maps the outcome onto the error taxonomy; nil on success.
func (o Outcome) Err() error {
	switch o.Tag {
	case TagSuccess:
		return nil
	case TagAuthExpired:
		return fmt.Errorf("%w: %s", ErrAuthExpired, o.Detail)
	case TagAuthRejected:
		return fmt.Errorf("%w: %s", ErrAuthRejected, o.Detail)
	case TagTransient:
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, o.Detail)
	default:
		return fmt.Errorf("%w: %w: %s", ErrExhaustedRetries, ErrTransientNetwork, o.Detail)
	}
}

// Record converts the outcome into a history row.
func (o Outcome) Record() *model.PunchRecord {
	return &model.PunchRecord{
		SubmissionID:      o.SubmissionID,
		Action:            o.Action.String(),
		Outcome:           string(o.Tag),
		StatusCode:        o.StatusCode,
		Detail:            o.Detail,
		CredentialProblem: o.CredentialProblem,
		Attempts:          o.Attempts,
		StartedAt:         o.StartedAt,
		FinishedAt:        o.FinishedAt,
	}
}
