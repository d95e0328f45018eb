package domain

import (
	"context"
	"time"
)

// CalendarRules is what the resolver needs from the calendar rule engine.
// Implemented by calendar.Engine; faked in tests.
type CalendarRules interface {
	// Suppressed reports whether reminders are suppressed on date for the
	// given locale (weekly rest day or holiday). Lookup failures fail
	// open: the implementation reports false and logs.
	Suppressed(ctx context.Context, date CivilDate, locale string) bool

	// SolarAnchor returns the solar-event instant (sunset) for date, or
	// ok=false when it cannot be determined. Not an error condition.
	SolarAnchor(ctx context.Context, date CivilDate, locale string) (time.Time, bool)
}

// Resolution is the outcome of resolving one (user, civil date) pair.
type Resolution struct {
	Primary   time.Time  // absolute fire instant for the fixed-time reminder
	Secondary *time.Time // pre-sunset instant, nil when not applicable
}

// Resolver computes concrete fire instants from user preferences and
// calendar rules. Resolution is a pure function of its inputs and is safe to
// recompute at any time.
type Resolver struct {
	rules CalendarRules
}

// NewResolver returns a Resolver backed by the given calendar rules.
func NewResolver(rules CalendarRules) *Resolver {
	return &Resolver{rules: rules}
}

// Resolve returns the fire instants for u on date, or ok=false when the date
// is suppressed and no reminder fires at all.
//
// The primary instant is the user's fixed hour:minute on date in the user's
// timezone. DST boundaries follow the timezone's standard rules: a local
// time erased by spring-forward resolves to the next valid instant, an
// ambiguous fall-back time to its first occurrence.
//
// The secondary instant is solar anchor minus the user's lead and is omitted
// whenever the anchor is unavailable or the user did not opt in; its absence
// never affects the primary.
func (r *Resolver) Resolve(ctx context.Context, u *UserConfig, date CivilDate) (Resolution, bool) {
	if r.rules.Suppressed(ctx, date, u.Locale) {
		return Resolution{}, false
	}

	loc := u.Location()
	res := Resolution{Primary: date.At(u.FireHour, u.FireMinute, loc).UTC()}

	if u.SunsetLead > 0 {
		if anchor, ok := r.rules.SolarAnchor(ctx, date, u.Locale); ok {
			sec := anchor.Add(-u.SunsetLead).UTC()
			res.Secondary = &sec
		}
	}
	return res, true
}
