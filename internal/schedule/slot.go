package schedule

import (
	"hash/fnv"
	"time"
)

// slotSalt namespaces slot hashes so other hash users of the same identity
// do not correlate with backup slots.
const slotSalt = "envbackup-slot"

// Slot is the deterministic UTC time slot assigned to a deployment for a cadence.
type Slot struct {
	HourUTC    int  `json:"slotHourUtc"`
	WeekdayUTC *int `json:"slotWeekdayUtc,omitempty"`
}

// Window compares a Slot against the current UTC hour and weekday.
type Window struct {
	Slot
	CurrentHourUTC    int  `json:"currentHourUtc"`
	CurrentWeekdayUTC int  `json:"currentWeekdayUtc"`
	Open              bool `json:"open"`
}

// AssignSlot derives the slot of identity for c. Daily cadences get an hour
// only; every other cadence gets an hour and a weekday. Different identities
// may share a slot: the goal is spread, not exclusivity.
func AssignSlot(c Cadence, identity string) Slot {
	h := hash32(slotSalt + ":" + string(c) + ":" + identity)
	if c == Daily {
		return Slot{HourUTC: int(h % 24)}
	}
	v := int(h % (24 * 7))
	wd := v / 24
	return Slot{HourUTC: v % 24, WeekdayUTC: &wd}
}

// WindowAt evaluates the slot of identity for c at now.
func WindowAt(c Cadence, identity string, now time.Time) Window {
	s := AssignSlot(c, identity)
	u := now.UTC()
	w := Window{
		Slot:              s,
		CurrentHourUTC:    u.Hour(),
		CurrentWeekdayUTC: int(u.Weekday()),
	}
	w.Open = w.CurrentHourUTC == s.HourUTC && (s.WeekdayUTC == nil || *s.WeekdayUTC == w.CurrentWeekdayUTC)
	return w
}

// SlotReached reports whether the daily slot hour of identity has begun
// within the local calendar day of now in timezone. From that instant until
// local midnight the gate stays open, so a failed cadence is retried by later
// triggers of the same day. A local day that never contains the slot hour
// (a DST transition) is open throughout.
func SlotReached(identity string, now time.Time, timezone string) bool {
	loc, ok := LoadLocation(timezone)
	if !ok {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	hour := AssignSlot(Daily, identity).HourUTC

	for t := start.Truncate(time.Hour); t.Before(end); t = t.Add(time.Hour) {
		if t.UTC().Hour() != hour {
			continue
		}
		if t.Before(start) {
			t = start
		}
		return !now.Before(t)
	}
	return true
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
