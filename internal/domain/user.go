package domain

import "time"

// UserConfig holds per-user reminder preferences. It is owned by the
// configuration layer (Telegram settings handlers); the scheduling core only
// reads it.
type UserConfig struct {
	UserID     int64
	Active     bool
	TZ         string // IANA zone name, validated at the boundary
	Locale     string // calendar locale key, e.g. "jerusalem"
	FireHour   int    // preferred local fire time
	FireMinute int
	SunsetLead time.Duration // 0 = no pre-sunset secondary reminder
	SnoozePref time.Duration // duration added per snooze request
	CreatedAt  time.Time     // UTC
	UpdatedAt  time.Time     // UTC
}

// Location resolves the user's timezone, falling back to UTC if the stored
// name no longer loads. Validation at the settings boundary makes the
// fallback unreachable in practice.
func (u *UserConfig) Location() *time.Location {
	loc, err := time.LoadLocation(u.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
