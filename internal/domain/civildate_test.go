package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCivilDateOf_TimezoneBoundary(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jerusalem")
	require.NoError(t, err)

	// 23:30 UTC is already the next day in Jerusalem (UTC+2 in winter).
	utc := time.Date(2025, time.January, 10, 23, 30, 0, 0, time.UTC)
	require.Equal(t, CivilDate{2025, time.January, 11}, CivilDateOf(utc, loc))
	require.Equal(t, CivilDate{2025, time.January, 10}, CivilDateOf(utc, time.UTC))
}

func TestCivilDate_StringRoundTrip(t *testing.T) {
	d := CivilDate{2025, time.March, 7}
	require.Equal(t, "2025-03-07", d.String())

	parsed, err := ParseCivilDate("2025-03-07")
	require.NoError(t, err)
	require.Equal(t, d, parsed)

	_, err = ParseCivilDate("07/03/2025")
	require.Error(t, err)
}

func TestCivilDate_NextNormalizes(t *testing.T) {
	require.Equal(t, CivilDate{2025, time.March, 1}, CivilDate{2025, time.February, 28}.Next())
	require.Equal(t, CivilDate{2024, time.February, 29}, CivilDate{2024, time.February, 28}.Next())
	require.Equal(t, CivilDate{2026, time.January, 1}, CivilDate{2025, time.December, 31}.Next())
}

func TestCivilDate_WeekdayAndBefore(t *testing.T) {
	// 2025-01-11 is a Saturday.
	require.Equal(t, time.Saturday, CivilDate{2025, time.January, 11}.Weekday())

	a := CivilDate{2025, time.January, 10}
	b := CivilDate{2025, time.January, 11}
	require.True(t, a.Before(b))
	require.False(t, b.Before(a))
	require.False(t, a.Before(a))
}
