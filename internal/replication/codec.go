// Package replication carries world state from an authoritative simulation
// to replicas: a msgpack frame codec and an applier that keeps a replica
// world in step with the frames it receives.
package replication

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"skirmish/internal/game/world"
)

// ErrUnknownFrame is returned when a frame carries an unrecognised type.
var ErrUnknownFrame = errors.New("unknown frame type")

// FrameType tags what an Envelope carries.
type FrameType uint8

const (
	FrameSnapshot FrameType = iota + 1
	FrameCommands
)

func (t FrameType) String() string {
	switch t {
	case FrameSnapshot:
		return "snapshot"
	case FrameCommands:
		return "commands"
	}
	return fmt.Sprintf("frame(%d)", t)
}

// Envelope is one replication frame on the wire.
type Envelope struct {
	Type     FrameType         `msgpack:"t"`
	Sequence uint64            `msgpack:"q"`
	Tick     uint64            `msgpack:"k"`
	States   []world.StateData `msgpack:"s,omitempty"`
	Removed  []int             `msgpack:"r,omitempty"`
	Commands []Addressed       `msgpack:"c,omitempty"`
}

// Addressed is a command bound for one entity.
type Addressed struct {
	EntityID int           `msgpack:"e"`
	Command  world.Command `msgpack:"c"`
}

// Snapshot builds a snapshot envelope.
func Snapshot(seq, tick uint64, states []world.StateData, removed []int) Envelope {
	return Envelope{Type: FrameSnapshot, Sequence: seq, Tick: tick, States: states, Removed: removed}
}

// Commands builds a command envelope.
func Commands(seq, tick uint64, cmds ...Addressed) Envelope {
	return Envelope{Type: FrameCommands, Sequence: seq, Tick: tick, Commands: cmds}
}

// Encode serializes env.
func Encode(env Envelope) ([]byte, error) {
	if env.Type != FrameSnapshot && env.Type != FrameCommands {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrame, env.Type)
	}
	data, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", env.Type, err)
	}
	return data, nil
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type != FrameSnapshot && env.Type != FrameCommands {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownFrame, env.Type)
	}
	return env, nil
}
