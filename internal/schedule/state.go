package schedule

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// ExecutionMode tells how a cadence run was started.
type ExecutionMode string

const (
	ModeScheduled ExecutionMode = "scheduled"
	ModeManual    ExecutionMode = "manual"
)

// CadenceState is the persisted outcome of the last run of one cadence.
type CadenceState struct {
	LastRunLocalDate         *Date         `json:"lastRunLocalDate,omitempty"`
	LastRunAt                *time.Time    `json:"lastRunAt,omitempty"`
	LastManagedEnvironmentID string        `json:"lastManagedEnvironmentId,omitempty"`
	LastExecutionMode        ExecutionMode `json:"lastExecutionMode,omitempty"`
	LastError                string        `json:"lastError,omitempty"`
}

// State is the persisted run state of one deployment.
type State struct {
	Cadences  map[Cadence]CadenceState `json:"cadences"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

// NewState returns an empty state.
func NewState() State {
	return State{Cadences: make(map[Cadence]CadenceState)}
}

// LastRun returns the last local run date of c, if any.
func (s State) LastRun(c Cadence) *Date {
	return s.Cadences[c].LastRunLocalDate
}

// Clone returns a copy whose cadence map can be mutated independently.
func (s State) Clone() State {
	out := State{UpdatedAt: s.UpdatedAt, Cadences: make(map[Cadence]CadenceState, len(s.Cadences))}
	maps.Copy(out.Cadences, s.Cadences)
	return out
}

// RecordSuccess stores a successful run of c.
func (s *State) RecordSuccess(c Cadence, mode ExecutionMode, localDate Date, at time.Time, environmentID string) {
	d, t := localDate, at.UTC()
	s.ensure()
	s.Cadences[c] = CadenceState{
		LastRunLocalDate:         &d,
		LastRunAt:                &t,
		LastManagedEnvironmentID: environmentID,
		LastExecutionMode:        mode,
	}
}

// RecordFailure stores a failed run of c. The last successful run date is
// kept so the cadence stays due and the next trigger retries it.
func (s *State) RecordFailure(c Cadence, mode ExecutionMode, at time.Time, err error) {
	s.ensure()
	cs := s.Cadences[c]
	t := at.UTC()
	cs.LastRunAt = &t
	cs.LastExecutionMode = mode
	cs.LastError = err.Error()
	s.Cadences[c] = cs
}

func (s *State) ensure() {
	if s.Cadences == nil {
		s.Cadences = make(map[Cadence]CadenceState)
	}
}

// Marshal encodes the state in its current persisted shape. Legacy fields
// are never written back.
func (s State) Marshal() ([]byte, error) {
	w := stateWire{UpdatedAt: s.UpdatedAt, Cadences: make(map[string]cadenceWire, len(s.Cadences))}
	for c, cs := range s.Cadences {
		cw := cadenceWire{
			LastRunAt:                cs.LastRunAt,
			LastManagedEnvironmentID: cs.LastManagedEnvironmentID,
			LastExecutionMode:        string(cs.LastExecutionMode),
			LastError:                cs.LastError,
		}
		if cs.LastRunLocalDate != nil {
			cw.LastRunLocalDate = cs.LastRunLocalDate.String()
		}
		w.Cadences[string(c)] = cw
	}
	return json.Marshal(w)
}

type cadenceWire struct {
	LastRunLocalDate         string     `json:"lastRunLocalDate,omitempty"`
	LastRunAt                *time.Time `json:"lastRunAt,omitempty"`
	LastManagedEnvironmentID string     `json:"lastManagedEnvironmentId,omitempty"`
	LastExecutionMode        string     `json:"lastExecutionMode,omitempty"`
	LastError                string     `json:"lastError,omitempty"`
}

type stateWire struct {
	Cadences  map[string]cadenceWire `json:"cadences"`
	UpdatedAt time.Time              `json:"updatedAt"`

	// legacy single-field aliases
	DailyLastRunDate string `json:"dailyLastRunDate,omitempty"`
	WeeklyLastRunKey string `json:"weeklyLastRunKey,omitempty"`
}

// DecodeState reads a persisted state. Empty input yields an empty state.
// Unknown cadences and unparsable dates are dropped. Legacy aliases fill in
// cadences missing from the map: dailyLastRunDate becomes the daily run
// date, and a weeklyLastRunKey equal to today's ISO week marks the weekly
// cadence as run today.
func DecodeState(raw []byte, today Date) (State, error) {
	st := NewState()
	if len(raw) == 0 {
		return st, nil
	}
	var w stateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return st, fmt.Errorf("decode schedule state: %w", err)
	}
	st.UpdatedAt = w.UpdatedAt
	for name, cw := range w.Cadences {
		c := Cadence(name)
		if !c.Valid() {
			continue
		}
		cs := CadenceState{
			LastRunAt:                cw.LastRunAt,
			LastManagedEnvironmentID: cw.LastManagedEnvironmentID,
			LastExecutionMode:        ExecutionMode(cw.LastExecutionMode),
			LastError:                cw.LastError,
		}
		if d, err := ParseDate(cw.LastRunLocalDate); err == nil {
			cs.LastRunLocalDate = &d
		}
		st.Cadences[c] = cs
	}

	if _, ok := st.Cadences[Daily]; !ok && w.DailyLastRunDate != "" {
		if d, err := ParseDate(w.DailyLastRunDate); err == nil {
			st.Cadences[Daily] = CadenceState{LastRunLocalDate: &d, LastExecutionMode: ModeScheduled}
		}
	}
	if _, ok := st.Cadences[Weekly]; !ok && w.WeeklyLastRunKey != "" && w.WeeklyLastRunKey == today.ISOWeekKey() {
		d := today
		st.Cadences[Weekly] = CadenceState{LastRunLocalDate: &d, LastExecutionMode: ModeScheduled}
	}
	return st, nil
}
