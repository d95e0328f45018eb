package domain

import "time"

// StreakRecord tracks a user's consecutive-completion run. Derived from the
// sequence of terminal instance outcomes; the stored record is a cache of
// that derivation.
type StreakRecord struct {
	UserID        int64
	Current       int
	Longest       int
	LastCompleted CivilDate // zero value when the user never completed
	UpdatedAt     time.Time // UTC
}

// AdvanceStreak folds one terminal outcome into rec and returns the updated
// record. suppressed reports whether a given civil date was exempt: a rest
// day, a holiday, or a day the user explicitly skipped. Exempt days are
// stepped over when judging consecutiveness and never break a run.
//
// Acknowledged on the day immediately following LastCompleted (modulo
// suppressed days) increments the run, otherwise starts a new run of 1.
// Missed resets the run to 0. Skipped leaves the record untouched: the day
// neither extends nor breaks the run.
func AdvanceStreak(rec StreakRecord, date CivilDate, outcome State, suppressed func(CivilDate) bool) StreakRecord {
	switch outcome {
	case StateAcknowledged:
		if rec.Current > 0 && !rec.LastCompleted.IsZero() && consecutive(rec.LastCompleted, date, suppressed) {
			rec.Current++
		} else {
			rec.Current = 1
		}
		if rec.Current > rec.Longest {
			rec.Longest = rec.Current
		}
		rec.LastCompleted = date

	case StateMissed:
		rec.Current = 0

	case StateSkipped:
		// excluded from both increment and break
	}
	return rec
}

// consecutive reports whether to is the next completion day after from, i.e.
// every intervening civil date was suppressed. Bounded scan; a gap of
// non-suppressed days ends it immediately.
func consecutive(from, to CivilDate, suppressed func(CivilDate) bool) bool {
	if !from.Before(to) {
		return false
	}
	for d := from.Next(); d.Before(to); d = d.Next() {
		if !suppressed(d) {
			return false
		}
	}
	return true
}
