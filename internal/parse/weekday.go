// Package parse turns operator-written schedule values into typed ones.
package parse

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

var spaceRe = regexp.MustCompile(`[\s._-]+`)

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"tues":      time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"thur":      time.Thursday,
	"thurs":     time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// ParseWeekday accepts a full or abbreviated English weekday name in any case.
func ParseWeekday(raw string) (time.Weekday, error) {
	s := strings.ToLower(spaceRe.ReplaceAllString(strings.TrimSpace(raw), ""))
	if d, ok := weekdayNames[s]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown weekday: %q", raw)
}

// ParseWorkdays parses every name, drops duplicates and returns the days in
// Monday-first order. Unknown names are reported together.
func ParseWorkdays(names []string) ([]time.Weekday, error) {
	var (
		days []time.Weekday
		bad  []string
	)
	for _, name := range names {
		d, err := ParseWeekday(name)
		if err != nil {
			bad = append(bad, name)
			continue
		}
		if !slices.Contains(days, d) {
			days = append(days, d)
		}
	}
	slices.SortFunc(days, func(a, b time.Weekday) int {
		return mondayFirst(a) - mondayFirst(b)
	})
	if len(bad) > 0 {
		return days, fmt.Errorf("unknown weekdays: %s", strings.Join(bad, ", "))
	}
	return days, nil
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}
