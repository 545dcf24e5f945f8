package schedule

import (
	"encoding/json"
	"slices"
	"time"
)

// ConfigVersion is the schema version of the persisted configuration.
const ConfigVersion = 2

// Config is the normalized schedule configuration of one deployment.
type Config struct {
	Version         int       `json:"version"`
	EnabledCadences []Cadence `json:"enabledCadences"`
	Timezone        string    `json:"timezone"`
	AnchorLocalDate Date      `json:"anchorLocalDate"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Enabled reports whether c is enabled.
func (c Config) Enabled(cadence Cadence) bool {
	return slices.Contains(c.EnabledCadences, cadence)
}

// Location returns the configured zone. Normalized configs always resolve;
// UTC is returned otherwise.
func (c Config) Location() *time.Location {
	if loc, ok := LoadLocation(c.Timezone); ok {
		return loc
	}
	return time.UTC
}

// Today returns the local date of now in the configured zone.
func (c Config) Today(now time.Time) Date {
	return LocalDate(now, c.Timezone)
}

// DefaultConfig returns the configuration written for a deployment that has
// no persisted record yet.
func DefaultConfig(timezoneFallback string, now time.Time) Config {
	tz := resolveTimezone("", timezoneFallback)
	return Config{
		Version:         ConfigVersion,
		EnabledCadences: slices.Clone(DefaultCadences),
		Timezone:        tz,
		AnchorLocalDate: LocalDate(now, tz),
		UpdatedAt:       now.UTC(),
	}
}

// NormalizeConfig turns a raw persisted value into a valid Config. Every
// invalid or missing field is replaced by its default independently and
// reported through requiresMigration so the caller writes the normalized
// form back. It never fails.
func NormalizeConfig(raw []byte, timezoneFallback string, now time.Time) (cfg Config, requiresMigration bool) {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return DefaultConfig(timezoneFallback, now), true
	}

	cfg.Version = ConfigVersion
	var version int
	if err := json.Unmarshal(fields["version"], &version); err != nil || version != ConfigVersion {
		requiresMigration = true
	}

	var names []string
	if err := json.Unmarshal(fields["enabledCadences"], &names); err != nil {
		names = nil
	}
	parsed := make([]Cadence, 0, len(names))
	for _, n := range names {
		parsed = append(parsed, Cadence(n))
	}
	cfg.EnabledCadences = orderCadences(parsed)
	if len(cfg.EnabledCadences) == 0 {
		cfg.EnabledCadences = slices.Clone(DefaultCadences)
		requiresMigration = true
	} else if !slices.Equal(cfg.EnabledCadences, parsed) {
		requiresMigration = true
	}

	var tz string
	_ = json.Unmarshal(fields["timezone"], &tz)
	if _, ok := LoadLocation(tz); ok {
		cfg.Timezone = tz
	} else {
		cfg.Timezone = resolveTimezone(tz, timezoneFallback)
		requiresMigration = true
	}

	var anchor string
	_ = json.Unmarshal(fields["anchorLocalDate"], &anchor)
	if d, err := ParseDate(anchor); err == nil {
		cfg.AnchorLocalDate = d
	} else {
		cfg.AnchorLocalDate = LocalDate(now, cfg.Timezone)
		requiresMigration = true
	}

	var updatedAt time.Time
	if err := json.Unmarshal(fields["updatedAt"], &updatedAt); err == nil && !updatedAt.IsZero() {
		cfg.UpdatedAt = updatedAt
	} else {
		cfg.UpdatedAt = now.UTC()
		requiresMigration = true
	}

	return cfg, requiresMigration
}

// resolveTimezone picks the first resolvable zone of name, fallback, UTC.
func resolveTimezone(name, fallback string) string {
	if _, ok := LoadLocation(name); ok {
		return name
	}
	if _, ok := LoadLocation(fallback); ok {
		return fallback
	}
	return "UTC"
}
