package scheduler

// FailureTally counts consecutive failed submissions.
type FailureTally struct {
	Threshold int
	count     int
	escalated bool
}

// Success resets the tally and returns the count it held.
func (t *FailureTally) Success() int {
	prev := t.count
	t.count = 0
	t.escalated = false
	return prev
}

// Failure increments the tally. It reports true only on the failure that
// first reaches the threshold.
func (t *FailureTally) Failure() bool {
	t.count++
	if t.escalated || t.count < t.threshold() {
		return false
	}
	t.escalated = true
	return true
}

// Count returns the number of consecutive failures.
func (t *FailureTally) Count() int { return t.count }

// Escalated reports whether the threshold has been reached since the last
// success.
func (t *FailureTally) Escalated() bool { return t.escalated }

func (t *FailureTally) threshold() int {
	if t.Threshold <= 0 {
		return 3
	}
	return t.Threshold
}
