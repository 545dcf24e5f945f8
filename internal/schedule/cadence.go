// Package schedule contains the pure scheduling core: cadences, calendar
// math, distributed slots and the persisted configuration/state shapes.
// Nothing in this package performs I/O.
package schedule

import (
	"fmt"
	"strings"
)

// Cadence is a named recurring schedule.
type Cadence string

const (
	Daily    Cadence = "daily"
	Weekly   Cadence = "weekly"
	Biweekly Cadence = "biweekly"
	Monthly  Cadence = "monthly"
)

// AllCadences lists every defined cadence in canonical order.
var AllCadences = []Cadence{Daily, Weekly, Biweekly, Monthly}

// DefaultCadences is used when the persisted configuration carries no usable list.
var DefaultCadences = []Cadence{Daily, Weekly}

// ParseCadence converts a name into a Cadence.
func ParseCadence(s string) (Cadence, error) {
	c := Cadence(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown cadence %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the defined cadences.
func (c Cadence) Valid() bool {
	switch c {
	case Daily, Weekly, Biweekly, Monthly:
		return true
	default:
		return false
	}
}

func (c Cadence) String() string { return string(c) }

// intervalDays returns the fixed interval for interval-based cadences and 0 otherwise.
func (c Cadence) intervalDays() int {
	switch c {
	case Daily:
		return 1
	case Weekly:
		return 7
	case Biweekly:
		return 14
	default:
		return 0
	}
}

// EnvironmentPrefix is the identifier prefix shared by every backup
// environment managed for this cadence.
func (c Cadence) EnvironmentPrefix() string {
	return "backup-plugin-" + string(c) + "-"
}

// EnvironmentID returns the identifier of the backup environment created on the given UTC date.
func (c Cadence) EnvironmentID(utcDate Date) string {
	return c.EnvironmentPrefix() + utcDate.String()
}

// orderCadences returns the unique valid cadences of in, in canonical order.
func orderCadences(in []Cadence) []Cadence {
	seen := make(map[Cadence]bool, len(in))
	for _, c := range in {
		if c.Valid() {
			seen[c] = true
		}
	}
	out := make([]Cadence, 0, len(seen))
	for _, c := range AllCadences {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}
