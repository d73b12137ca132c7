package credential

import "time"

// Evaluator decides whether the bearer token in a Set is usable.
type Evaluator struct {
	BearerName string
	Now        func() time.Time
}

// NewEvaluator returns an Evaluator reading the named bearer cookie against
// the wall clock.
func NewEvaluator(bearerName string) Evaluator {
	if bearerName == "" {
		bearerName = DefaultBearerName
	}
	return Evaluator{BearerName: bearerName, Now: time.Now}
}

func (e Evaluator) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e Evaluator) name() string {
	if e.BearerName == "" {
		return DefaultBearerName
	}
	return e.BearerName
}

// Bearer returns the bearer token held by set.
func (e Evaluator) Bearer(set Set) (string, bool) {
	token, ok := set[e.name()]
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// IsExpired reports whether set lacks a usable bearer token.
func (e Evaluator) IsExpired(set Set) bool {
	token, ok := e.Bearer(set)
	if !ok {
		return true
	}
	return TokenExpired(token, e.now())
}

// Status is a human-facing summary of the bearer token.
type Status struct {
	Present   bool          `json:"present"`
	Decodable bool          `json:"decodable"`
	IssuedAt  *time.Time    `json:"issuedAt,omitempty"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
	Expired   bool          `json:"expired"`
	Remaining time.Duration `json:"remaining"`
	Error     string        `json:"error,omitempty"`
}

// Inspect reports presence, decoded timing claims and remaining lifetime of
// the bearer token in set.
func (e Evaluator) Inspect(set Set) Status {
	token, ok := e.Bearer(set)
	if !ok {
		return Status{Expired: true, Error: ErrNoBearer.Error()}
	}

	st := Status{Present: true}
	claims, err := DecodeClaims(token)
	if err != nil {
		st.Expired = true
		st.Error = err.Error()
		return st
	}

	st.Decodable = true
	st.IssuedAt = claims.IssuedAt
	st.ExpiresAt = claims.ExpiresAt
	if claims.ExpiresAt == nil {
		st.Expired = true
		st.Error = "no expiration time found"
		return st
	}

	now := e.now()
	st.Expired = !now.Before(*claims.ExpiresAt)
	if !st.Expired {
		st.Remaining = claims.ExpiresAt.Sub(now)
	}
	return st
}
