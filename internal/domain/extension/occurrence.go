package extension

import (
	"time"

	"github.com/guildhook/guildhook/internal/domain/platform"
)

// OccurrenceKind classifies what happened.
type OccurrenceKind string

const (
	OccurrenceEvent   OccurrenceKind = "event"
	OccurrenceTimer   OccurrenceKind = "timer"
	OccurrenceCommand OccurrenceKind = "command"
)

// Occurrence is one platform event, timer tick or command invocation.
// It carries live platform objects; the serializers copy what guests may see.
type Occurrence struct {
	ID       string
	Kind     OccurrenceKind
	Name     string
	TenantID string
	At       time.Time

	Guild       *platform.Guild
	Channel     *platform.Channel
	Member      *platform.Member
	User        *platform.User
	Message     *platform.Message
	Interaction *platform.Interaction

	// Payload holds extra plain event data.
	Payload map[string]any

	// Target restricts a timer occurrence to one installation key.
	Target string
}
