package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noSuppression(CivilDate) bool { return false }

func suppressOnly(dates ...CivilDate) func(CivilDate) bool {
	set := make(map[CivilDate]bool, len(dates))
	for _, d := range dates {
		set[d] = true
	}
	return func(d CivilDate) bool { return set[d] }
}

func TestAdvanceStreak_FirstCompletion(t *testing.T) {
	rec := AdvanceStreak(StreakRecord{UserID: 1}, CivilDate{2025, time.June, 10}, StateAcknowledged, noSuppression)
	require.Equal(t, 1, rec.Current)
	require.Equal(t, 1, rec.Longest)
	require.Equal(t, CivilDate{2025, time.June, 10}, rec.LastCompleted)
}

func TestAdvanceStreak_ConsecutiveIncrement(t *testing.T) {
	rec := StreakRecord{UserID: 1, Current: 4, Longest: 6, LastCompleted: CivilDate{2025, time.June, 10}}
	rec = AdvanceStreak(rec, CivilDate{2025, time.June, 11}, StateAcknowledged, noSuppression)
	require.Equal(t, 5, rec.Current)
	require.Equal(t, 6, rec.Longest)

	rec = AdvanceStreak(rec, CivilDate{2025, time.June, 12}, StateAcknowledged, noSuppression)
	require.Equal(t, 6, rec.Current)

	rec = AdvanceStreak(rec, CivilDate{2025, time.June, 13}, StateAcknowledged, noSuppression)
	require.Equal(t, 7, rec.Current)
	require.Equal(t, 7, rec.Longest, "longest follows current past the old record")
}

func TestAdvanceStreak_GapResetsToOne(t *testing.T) {
	rec := StreakRecord{UserID: 1, Current: 4, Longest: 4, LastCompleted: CivilDate{2025, time.June, 10}}
	// June 11 had no completion and was not suppressed.
	rec = AdvanceStreak(rec, CivilDate{2025, time.June, 12}, StateAcknowledged, noSuppression)
	require.Equal(t, 1, rec.Current)
	require.Equal(t, 4, rec.Longest)
}

func TestAdvanceStreak_SuppressedDaysAreSkippedOver(t *testing.T) {
	// Friday completed, Saturday suppressed, Sunday completed: no break.
	fri := CivilDate{2025, time.June, 13}
	sat := CivilDate{2025, time.June, 14}
	sun := CivilDate{2025, time.June, 15}

	rec := StreakRecord{UserID: 1, Current: 2, Longest: 2, LastCompleted: fri}
	rec = AdvanceStreak(rec, sun, StateAcknowledged, suppressOnly(sat))
	require.Equal(t, 3, rec.Current)

	// Two suppressed days in a row (holiday after rest day) also bridge.
	mon := CivilDate{2025, time.June, 16}
	tue := CivilDate{2025, time.June, 17}
	rec = AdvanceStreak(rec, tue, StateAcknowledged, suppressOnly(mon))
	require.Equal(t, 4, rec.Current)
}

func TestAdvanceStreak_MissedResetsToZero(t *testing.T) {
	rec := StreakRecord{UserID: 1, Current: 9, Longest: 9, LastCompleted: CivilDate{2025, time.June, 10}}
	rec = AdvanceStreak(rec, CivilDate{2025, time.June, 11}, StateMissed, noSuppression)
	require.Equal(t, 0, rec.Current)
	require.Equal(t, 9, rec.Longest)
	require.Equal(t, CivilDate{2025, time.June, 10}, rec.LastCompleted, "missed day is not a completion")
}

func TestAdvanceStreak_SkippedLeavesRecordAlone(t *testing.T) {
	rec := StreakRecord{UserID: 1, Current: 9, Longest: 9, LastCompleted: CivilDate{2025, time.June, 10}}
	got := AdvanceStreak(rec, CivilDate{2025, time.June, 11}, StateSkipped, noSuppression)
	require.Equal(t, rec, got)

	// The skipped day is also bridged over by the next completion.
	got = AdvanceStreak(got, CivilDate{2025, time.June, 12}, StateAcknowledged, suppressOnly(CivilDate{2025, time.June, 11}))
	require.Equal(t, 10, got.Current)
}

func TestAdvanceStreak_SameDayRepeatDoesNotDoubleCount(t *testing.T) {
	day := CivilDate{2025, time.June, 10}
	rec := AdvanceStreak(StreakRecord{UserID: 1}, day, StateAcknowledged, noSuppression)
	rec = AdvanceStreak(rec, day, StateAcknowledged, noSuppression)
	require.Equal(t, 1, rec.Current, "a repeated ack for the same date starts over, never stacks")
}
