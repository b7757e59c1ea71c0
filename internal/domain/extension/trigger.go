package extension

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// TriggerKind selects what fires an extension.
type TriggerKind string

const (
	TriggerEvent    TriggerKind = "event"
	TriggerInterval TriggerKind = "interval"
	TriggerCommand  TriggerKind = "command"
)

// MinInterval is the shortest schedule an extension may declare.
const MinInterval = time.Minute

// Trigger is the declared firing condition of an extension.
type Trigger struct {
	Kind TriggerKind `json:"kind" yaml:"kind"`
	// Event is the platform event name, e.g. "messageCreate".
	Event string `json:"event,omitempty" yaml:"event,omitempty"`
	// Every is a Go duration string such as "15m".
	Every string `json:"every,omitempty" yaml:"every,omitempty"`
	// Command is a glob over command names, e.g. "rank*".
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	// Filter is an optional boolean expression evaluated against the occurrence.
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Interval parses Every.
func (t Trigger) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(t.Every)
	if err != nil {
		return 0, fmt.Errorf("trigger interval %q: %w", t.Every, err)
	}
	return d, nil
}

// Validate checks that the fields required by Kind are present and well formed.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerEvent:
		if strings.TrimSpace(t.Event) == "" {
			return fmt.Errorf("event trigger requires an event name")
		}
	case TriggerInterval:
		d, err := t.Interval()
		if err != nil {
			return err
		}
		if d < MinInterval {
			return fmt.Errorf("trigger interval %s is shorter than %s", d, MinInterval)
		}
	case TriggerCommand:
		if t.Command == "" {
			return fmt.Errorf("command trigger requires a command pattern")
		}
		if _, err := path.Match(t.Command, ""); err != nil {
			return fmt.Errorf("command pattern %q: %w", t.Command, err)
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return nil
}

// Matches reports whether the occurrence satisfies the trigger's kind and name.
// The filter expression is evaluated separately by the dispatcher.
func (t Trigger) Matches(occ *Occurrence) bool {
	if occ == nil {
		return false
	}
	switch t.Kind {
	case TriggerEvent:
		return occ.Kind == OccurrenceEvent && strings.EqualFold(t.Event, occ.Name)
	case TriggerCommand:
		if occ.Kind != OccurrenceCommand {
			return false
		}
		ok, err := path.Match(t.Command, occ.Name)
		return err == nil && ok
	case TriggerInterval:
		return occ.Kind == OccurrenceTimer
	default:
		return false
	}
}
