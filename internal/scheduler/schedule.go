// Package scheduler runs the long-lived punch loop: it draws a randomized
// weekly schedule, fires submissions when their time arrives and keeps the
// consecutive-failure bookkeeping that decides when to escalate.
package scheduler

import (
	"fmt"
	"math/rand/v2"
	"time"

	"attendance-punch/config"
	"attendance-punch/internal/punch"
)

// Entry is one scheduled punch.
type Entry struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
	Action  punch.Action
}

// Clock returns the entry time as HH:MM.
func (e Entry) Clock() string {
	return fmt.Sprintf("%02d:%02d", e.Hour, e.Minute)
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s", e.Weekday, e.Clock(), e.Action)
}

// Next returns the first occurrence of e strictly after t, in t's location.
func (e Entry) Next(t time.Time) time.Time {
	days := (int(e.Weekday) - int(t.Weekday()) + 7) % 7
	next := time.Date(t.Year(), t.Month(), t.Day()+days, e.Hour, e.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+days+7, e.Hour, e.Minute, 0, 0, t.Location())
	}
	return next
}

// Schedule is the set of entries for one schedule epoch, indexed by weekday.
type Schedule struct {
	Entries []Entry
	byDay   map[time.Weekday][]Entry
}

// Build draws a check-in and a check-out time for every workday. Minutes are
// uniform over the inclusive configured ranges.
func Build(ws config.WorkSchedule, days []time.Weekday, rng *rand.Rand) *Schedule {
	s := &Schedule{byDay: make(map[time.Weekday][]Entry, len(days))}
	for _, day := range days {
		in := Entry{Weekday: day, Hour: ws.PunchIn.Hour, Minute: drawMinute(ws.PunchIn.MinuteRange, rng), Action: punch.CheckIn}
		out := Entry{Weekday: day, Hour: ws.PunchOut.Hour, Minute: drawMinute(ws.PunchOut.MinuteRange, rng), Action: punch.CheckOut}
		s.Entries = append(s.Entries, in, out)
		s.byDay[day] = append(s.byDay[day], in, out)
	}
	return s
}

// Day returns the entries scheduled on d.
func (s *Schedule) Day(d time.Weekday) []Entry {
	return s.byDay[d]
}

func drawMinute(r config.MinuteRange, rng *rand.Rand) int {
	lo, hi := r.Min, r.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + rng.IntN(hi-lo+1)
}
