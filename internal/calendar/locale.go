package calendar

import (
	"embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed locales.yaml
var localesFS embed.FS

// Locale describes one calendar locality: its timezone, the weekly rest day
// on which reminders are suppressed, and the geoname id used for holiday and
// sunset lookups.
type Locale struct {
	Name           string
	Timezone       string
	GeonameID      int
	RestDay        time.Weekday
	FallbackSunset map[time.Month]string // month -> "HH:MM" local, approximate
}

type localeYAML struct {
	Timezone       string         `yaml:"timezone"`
	GeonameID      int            `yaml:"geoname_id"`
	RestDay        string         `yaml:"rest_day"`
	FallbackSunset map[int]string `yaml:"fallback_sunset"`
}

type localesFile struct {
	Locales map[string]localeYAML `yaml:"locales"`
}

var weekdays = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

// LoadLocales parses the embedded locale registry.
func LoadLocales() (map[string]Locale, error) {
	raw, err := localesFS.ReadFile("locales.yaml")
	if err != nil {
		return nil, err
	}
	var file localesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse locales.yaml: %w", err)
	}

	out := make(map[string]Locale, len(file.Locales))
	for name, ly := range file.Locales {
		day, ok := weekdays[ly.RestDay]
		if !ok {
			return nil, fmt.Errorf("locale %s: unknown rest_day %q", name, ly.RestDay)
		}
		if _, err := time.LoadLocation(ly.Timezone); err != nil {
			return nil, fmt.Errorf("locale %s: %w", name, err)
		}
		loc := Locale{
			Name:      name,
			Timezone:  ly.Timezone,
			GeonameID: ly.GeonameID,
			RestDay:   day,
		}
		if len(ly.FallbackSunset) > 0 {
			loc.FallbackSunset = make(map[time.Month]string, len(ly.FallbackSunset))
			for m, hhmm := range ly.FallbackSunset {
				if m < 1 || m > 12 {
					return nil, fmt.Errorf("locale %s: fallback_sunset month %d", name, m)
				}
				loc.FallbackSunset[time.Month(m)] = hhmm
			}
		}
		out[name] = loc
	}
	return out, nil
}
