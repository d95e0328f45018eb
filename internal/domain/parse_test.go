package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDurationHuman(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30m", 30 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1h30m", 90 * time.Minute},
		{"90", 90 * time.Minute},
		{" 45M ", 45 * time.Minute},
	}
	for _, c := range cases {
		got, err := ParseDurationHuman(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}

	_, err := ParseDurationHuman("")
	require.ErrorIs(t, err, ErrEmptyDuration)
	_, err = ParseDurationHuman("soon")
	require.ErrorIs(t, err, ErrInvalidDuration)
	_, err = ParseDurationHuman("2m")
	require.ErrorIs(t, err, ErrTooSmall)
	_, err = ParseDurationHuman("7h")
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("07:30")
	require.NoError(t, err)
	require.Equal(t, 7, h)
	require.Equal(t, 30, m)

	for _, bad := range []string{"7", "25:00", "07:60", "seven:30", ""} {
		_, _, err := ParseClock(bad)
		require.Error(t, err, bad)
	}
}

func TestValidateTZ(t *testing.T) {
	name, err := ValidateTZ("Asia/Jerusalem")
	require.NoError(t, err)
	require.Equal(t, "Asia/Jerusalem", name)

	_, err = ValidateTZ("Middle/Nowhere")
	require.Error(t, err)
}

func TestFormatClock(t *testing.T) {
	require.Equal(t, "07:05", FormatClock(7, 5))
	require.Equal(t, "23:59", FormatClock(23, 59))
}
