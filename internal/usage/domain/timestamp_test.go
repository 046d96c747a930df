package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{raw: "2015-10-20 17:31:57.100", want: time.Date(2015, 10, 20, 17, 31, 57, 100_000_000, time.UTC)},
		{raw: "2015-10-20 17:31:57", want: time.Date(2015, 10, 20, 17, 31, 57, 0, time.UTC)},
		{raw: "2015-10-20T17:31:57+02:00", want: time.Date(2015, 10, 20, 15, 31, 57, 0, time.UTC)},
		{raw: "2015-10-20T17:31:57.123456789Z", want: time.Date(2015, 10, 20, 17, 31, 57, 123456789, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTimestamp(tt.raw)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s", got)
		})
	}

	for _, raw := range []string{"", "invalid", "2015-13-45 00:00:00"} {
		_, err := ParseTimestamp(raw)
		assert.ErrorIs(t, err, ErrInvalidTimestamp, raw)
	}
}

func TestCorrelationErrorMatchesSentinel(t *testing.T) {
	err := error(&CorrelationError{Expected: 3})
	assert.ErrorIs(t, err, ErrInvalidCorrelation)
	assert.EqualError(t, err, "Invalid correlation number, expected: 3")
	assert.True(t, IsValidation(err))
}
