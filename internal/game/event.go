package game

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeTick              // Tick boundary
	EventTypeSpawn
	EventTypeRemove
	EventTypeHarm
	EventTypeDeath
	EventTypeAction
	EventTypeCast
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 2

// Event is the core event structure for the event log
type Event struct {
	ID        string          `json:"id"`       // ULID, sortable by creation time
	Version   uint8           `json:"version"`  // Schema version
	Type      EventType       `json:"type"`     // Event type
	Timestamp int64           `json:"ts"`       // Unix nano
	Sequence  uint64          `json:"sequence"` // Monotonic sequence
	TickNum   uint64          `json:"tick"`     // Simulation tick this occurred in
	EntityID  int             `json:"entity"`   // Source entity (for rate limiting), zero for none
	Payload   json.RawMessage `json:"payload"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeTick:
		return "tick"
	case EventTypeSpawn:
		return "spawn"
	case EventTypeRemove:
		return "remove"
	case EventTypeHarm:
		return "harm"
	case EventTypeDeath:
		return "death"
	case EventTypeAction:
		return "action"
	case EventTypeCast:
		return "cast"
	default:
		return "unknown"
	}
}

// MarshalText lets events carry readable type names in NDJSON.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "tick":
		*t = EventTypeTick
	case "spawn":
		*t = EventTypeSpawn
	case "remove":
		*t = EventTypeRemove
	case "harm":
		*t = EventTypeHarm
	case "death":
		*t = EventTypeDeath
	case "action":
		*t = EventTypeAction
	case "cast":
		*t = EventTypeCast
	default:
		*t = EventTypeUnknown
	}
	return nil
}

// Typed payloads for different event types

// TickPayload contains tick boundary information
type TickPayload struct {
	Entities    int   `json:"entities"`
	DeltaTimeNs int64 `json:"deltaTimeNs"`
}

// SpawnPayload describes an entity entering the world
type SpawnPayload struct {
	Name   string  `json:"name"`
	Kind   string  `json:"kind"`
	Team   int     `json:"team"`
	X      float64 `json:"x"`
	Z      float64 `json:"z"`
	Health float64 `json:"health"`
}

// RemovePayload describes an entity leaving the world
type RemovePayload struct {
	Reason string `json:"reason"`
}

// HarmPayload contains one resolved harm
type HarmPayload struct {
	SourceID int     `json:"sourceId"`
	TargetID int     `json:"targetId"`
	Raw      float64 `json:"raw"`
	Dealt    float64 `json:"dealt"`
	Killed   bool    `json:"killed"`
}

// DeathPayload contains death details
type DeathPayload struct {
	KillerID int `json:"killerId"`
	Team     int `json:"team"`
}

// ActionPayload records an action starting on an entity
type ActionPayload struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	TypeID int    `json:"typeId"`
}

// CastPayload records an accepted cast
type CastPayload struct {
	Spell   string  `json:"spell"`
	TargetX float64 `json:"targetX"`
	TargetZ float64 `json:"targetZ"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload any) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum uint64, entityID int, payload any) Event {
	now := time.Now()
	return Event{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: now.UnixNano(),
		TickNum:   tickNum,
		EntityID:  entityID,
		Payload:   EncodePayload(payload),
	}
}
