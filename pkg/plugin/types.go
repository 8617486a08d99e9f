package plugin

import (
	"fmt"
	"strings"
	"time"
)

// State represents the lifecycle position of a plugin instance.
type State int

const (
	// StateUninitialized is the zero value: no activate or deactivate call
	// has been observed yet.
	StateUninitialized State = iota
	// StateEnabled means the plugin performs its unit of work on Execute.
	StateEnabled
	// StateDisabled means Execute is a no-op returning false.
	StateDisabled
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState converts the textual form produced by String back into a State.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "uninitialized", "":
		return StateUninitialized, nil
	case "enabled":
		return StateEnabled, nil
	case "disabled":
		return StateDisabled, nil
	default:
		return StateUninitialized, fmt.Errorf("unknown plugin state %q", raw)
	}
}

// Outcome is the result of a targeted coordinator operation.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeFailed    Outcome = "failed"
)

// OK collapses the outcome to the boolean success signal.
func (o Outcome) OK() bool { return o == OutcomeSucceeded }

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Status is a point-in-time view of a registered plugin.
type Status struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Info        *Info  `json:"info,omitempty"`
	State       State  `json:"state"`
	Initialized bool   `json:"initialized"`
}

// EventKind names the lifecycle step an Event describes.
type EventKind string

const (
	EventInit       EventKind = "init"
	EventInitAll    EventKind = "init_all"
	EventActivate   EventKind = "activate"
	EventDeactivate EventKind = "deactivate"
	EventExecute    EventKind = "execute"
)

// Event is the diagnostic record emitted by the coordinator for every
// fan-out step and targeted operation.
type Event struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id,omitempty"`
	Coordinator string        `json:"coordinator"`
	Plugin      string        `json:"plugin"`
	Kind        EventKind     `json:"kind"`
	Outcome     Outcome       `json:"outcome"`
	State       State         `json:"state"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	OccurredAt  time.Time     `json:"occurred_at"`
}
