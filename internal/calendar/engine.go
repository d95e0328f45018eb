package calendar

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amirbiron/Tfilin/internal/domain"
)

// Engine is the calendar rule engine: it decides whether a civil date is
// exempt from reminders (weekly rest day or holiday) and resolves the solar
// anchor (sunset) for dates that need one. It implements
// domain.CalendarRules.
//
// Holiday sets are cached per (locale, year); the facts are per-date and do
// not drift. Sunset instants are cached per (locale, date) only, since they
// shift daily. A holiday lookup failure fails open: a day is reported
// not-suppressed and the condition is logged, because silently swallowing a
// user's reminder is worse than one unwanted one.
type Engine struct {
	client  *Client
	locales map[string]Locale
	def     string // locale used when a user's locale key is unknown
	log     *zap.Logger

	mu       sync.Mutex
	holidays map[holidayKey]map[string]bool
	sunsets  map[sunsetKey]time.Time
}

type holidayKey struct {
	locale string
	year   int
}

type sunsetKey struct {
	locale string
	date   string
}

// NewEngine builds the rule engine from the embedded locale registry.
func NewEngine(client *Client, locales map[string]Locale, defaultLocale string, log *zap.Logger) *Engine {
	return &Engine{
		client:   client,
		locales:  locales,
		def:      defaultLocale,
		log:      log,
		holidays: make(map[holidayKey]map[string]bool),
		sunsets:  make(map[sunsetKey]time.Time),
	}
}

func (e *Engine) locale(name string) Locale {
	if loc, ok := e.locales[name]; ok {
		return loc
	}
	return e.locales[e.def]
}

// Suppressed reports whether date is the locale's weekly rest day or a
// holiday on which reminders do not fire.
func (e *Engine) Suppressed(ctx context.Context, date domain.CivilDate, locale string) bool {
	loc := e.locale(locale)
	if date.Weekday() == loc.RestDay {
		return true
	}

	set, err := e.holidaySet(ctx, loc, date.Year)
	if err != nil {
		e.log.Warn("holiday lookup failed, treating day as not suppressed",
			zap.String("locale", loc.Name),
			zap.String("date", date.String()),
			zap.Error(err),
		)
		return false
	}
	return set[date.String()]
}

// SolarAnchor returns the sunset instant for date, falling back to the
// locale's approximate monthly table when the zmanim API is unavailable.
// ok=false means no anchor can be determined at all; callers omit the
// secondary reminder for that date.
func (e *Engine) SolarAnchor(ctx context.Context, date domain.CivilDate, locale string) (time.Time, bool) {
	loc := e.locale(locale)
	key := sunsetKey{locale: loc.Name, date: date.String()}

	e.mu.Lock()
	if t, ok := e.sunsets[key]; ok {
		e.mu.Unlock()
		return t, true
	}
	e.mu.Unlock()

	t, err := e.client.Sunset(ctx, date.String(), loc.GeonameID)
	if err != nil {
		e.log.Warn("sunset lookup failed",
			zap.String("locale", loc.Name),
			zap.String("date", date.String()),
			zap.Error(err),
		)
		approx, ok := loc.approximateSunset(date)
		if !ok {
			return time.Time{}, false
		}
		// Approximations are not cached so a recovered API wins on the
		// next call.
		return approx, true
	}

	e.mu.Lock()
	e.sunsets[key] = t
	e.pruneSunsetsLocked(date)
	e.mu.Unlock()
	return t, true
}

// holidaySet returns the suppressed-date set for (locale, year), fetching
// and caching it on first use.
func (e *Engine) holidaySet(ctx context.Context, loc Locale, year int) (map[string]bool, error) {
	key := holidayKey{locale: loc.Name, year: year}

	e.mu.Lock()
	if set, ok := e.holidays[key]; ok {
		e.mu.Unlock()
		return set, nil
	}
	e.mu.Unlock()

	set, err := e.client.Holidays(ctx, year, loc.GeonameID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.holidays[key] = set
	e.mu.Unlock()
	return set, nil
}

// pruneSunsetsLocked drops sunset entries more than two weeks behind today;
// the cache otherwise grows by one entry per locale per day forever.
func (e *Engine) pruneSunsetsLocked(today domain.CivilDate) {
	if len(e.sunsets) < 64 {
		return
	}
	cutoff := time.Date(today.Year, today.Month, today.Day-14, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
	for k := range e.sunsets {
		if k.date < cutoff {
			delete(e.sunsets, k)
		}
	}
}

// approximateSunset returns the locale's rough monthly sunset for date, in
// the locale's timezone.
func (l Locale) approximateSunset(date domain.CivilDate) (time.Time, bool) {
	hhmm, ok := l.FallbackSunset[date.Month]
	if !ok {
		return time.Time{}, false
	}
	hour, minute, err := domain.ParseClock(hhmm)
	if err != nil {
		return time.Time{}, false
	}
	tz, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.Time{}, false
	}
	return date.At(hour, minute, tz), true
}
