package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeekday(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  time.Weekday
		expectErr bool
	}{
		{name: "lower case", raw: "monday", expected: time.Monday},
		{name: "title case", raw: "Friday", expected: time.Friday},
		{name: "upper abbreviation", raw: "WED", expected: time.Wednesday},
		{name: "padded", raw: "  sunday ", expected: time.Sunday},
		{name: "thurs", raw: "Thurs", expected: time.Thursday},
		{name: "unknown", raw: "funday", expectErr: true},
		{name: "empty", raw: "", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseWeekday(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestParseWorkdays(t *testing.T) {
	days, err := ParseWorkdays([]string{"friday", "Monday", "mon", "sunday"})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday, time.Sunday}, days)

	days, err = ParseWorkdays([]string{"tuesday", "someday", "never"})
	assert.ErrorContains(t, err, "someday, never")
	assert.Equal(t, []time.Weekday{time.Tuesday}, days, "valid names are still returned")
}
