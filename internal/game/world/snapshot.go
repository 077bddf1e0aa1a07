package world

import (
	"errors"
	"fmt"

	"skirmish/internal/game/action"
	"skirmish/internal/game/effect"
	"skirmish/internal/game/geom"
)

// StateData is the replicated state of one entity. It carries no wire
// format of its own; encoders decide how it travels.
type StateData struct {
	ID        int              `json:"id" msgpack:"id"`
	Tick      uint64           `json:"tick" msgpack:"tk"`
	Name      string           `json:"name" msgpack:"n"`
	Kind      string           `json:"kind" msgpack:"k"`
	Team      int              `json:"team" msgpack:"tm"`
	Position  geom.Vec3        `json:"position" msgpack:"p"`
	Facing    geom.Vec3        `json:"facing" msgpack:"f"`
	Health    float64          `json:"health" msgpack:"h"`
	HealthMax float64          `json:"healthMax" msgpack:"hm"`
	Speed     float64          `json:"speed" msgpack:"s"`
	Dead      bool             `json:"dead" msgpack:"d"`
	Casting   bool             `json:"casting" msgpack:"c"`
	Action    int              `json:"action" msgpack:"a"`
	Buffs     []effect.Summary `json:"buffs" msgpack:"b"`
}

// Snapshot captures entity id at the current tick.
func (w *World) Snapshot(id int) (StateData, error) {
	e, ok := w.Entity(id)
	if !ok {
		return StateData{}, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	return w.snapshot(e), nil
}

// SnapshotAll captures every attached entity in insertion order.
func (w *World) SnapshotAll() []StateData {
	bodies := w.Bodies()
	out := make([]StateData, len(bodies))
	for i, e := range bodies {
		out[i] = w.snapshot(e)
	}
	return out
}

func (w *World) snapshot(e *Entity) StateData {
	buffs := e.influence.Summaries()
	if len(buffs) == 0 && len(e.remoteBuffs) > 0 {
		buffs = e.remoteBuffs
	}
	return StateData{
		ID:        e.id,
		Tick:      w.tick,
		Name:      e.name,
		Kind:      e.kind.String(),
		Team:      e.team,
		Position:  e.body.position,
		Facing:    e.body.facing,
		Health:    e.stats.HealthCurrent,
		HealthMax: e.stats.HealthMax,
		Speed:     e.stats.SpeedCurrent,
		Dead:      e.influence.IsDead(),
		Casting:   e.casting,
		Action:    e.lastAction,
		Buffs:     buffs,
	}
}

// ApplySnapshot brings a replica entity up to s. Snapshots older than or
// equal to the last applied one are ignored, so re-delivery is harmless.
// It reports whether s was applied.
func (w *World) ApplySnapshot(s StateData) (bool, error) {
	e, ok := w.Entity(s.ID)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownEntity, s.ID)
	}
	if e.lastSnapshot != 0 && s.Tick <= e.lastSnapshot {
		return false, nil
	}
	e.lastSnapshot = s.Tick

	e.body.position = s.Position
	if s.Facing != geom.Zero {
		e.body.facing = s.Facing
	}
	if s.HealthMax > 0 {
		e.stats.HealthMax = s.HealthMax
	}
	e.stats.SpeedCurrent = s.Speed
	e.casting = s.Casting

	if !s.Dead && e.influence.IsDead() {
		e.influence.Revive(s.Health)
	} else {
		e.influence.SetHealth(s.Health)
	}
	e.remoteBuffs = append(e.remoteBuffs[:0], s.Buffs...)
	return true, nil
}

// CommandType names a replica-side command.
type CommandType string

const (
	// CommandPlayAction starts the presentation of action ActionTypeID.
	CommandPlayAction CommandType = "play_action"
	// CommandSetHealth overwrites health.
	CommandSetHealth CommandType = "set_health"
	// CommandAddBuff attaches the effect described by Buff.
	CommandAddBuff CommandType = "add_buff"
	// CommandInfluence queues a one-shot damage influence of Amount.
	CommandInfluence CommandType = "influence"
)

var ErrUnknownCommand = errors.New("unknown command")

// Command is a replica-side instruction. Seq orders commands per entity;
// anything not newer than the last applied Seq is dropped.
type Command struct {
	Seq          uint64      `json:"seq" msgpack:"q"`
	Type         CommandType `json:"type" msgpack:"t"`
	ActionTypeID int         `json:"actionTypeId,omitempty" msgpack:"a,omitempty"`
	Health       float64     `json:"health,omitempty" msgpack:"h,omitempty"`
	Amount       float64     `json:"amount,omitempty" msgpack:"m,omitempty"`
	SourceID     int         `json:"sourceId,omitempty" msgpack:"s,omitempty"`
	Buff         *BuffSpec   `json:"buff,omitempty" msgpack:"b,omitempty"`
}

// BuffSpec is the replicated form of effect.Spec.
type BuffSpec struct {
	Kind       string  `json:"kind" msgpack:"k"`
	TypeID     int     `json:"typeId" msgpack:"t"`
	Duration   float64 `json:"duration" msgpack:"d"`
	Factor     float64 `json:"factor,omitempty" msgpack:"f,omitempty"`
	Constant   float64 `json:"constant,omitempty" msgpack:"c,omitempty"`
	Amount     float64 `json:"amount,omitempty" msgpack:"a,omitempty"`
	Protection float64 `json:"protection,omitempty" msgpack:"p,omitempty"`
}

// Spec converts b to an effect spec.
func (b BuffSpec) Spec() (effect.Spec, error) {
	kind, err := effect.ParseKind(b.Kind)
	if err != nil {
		return effect.Spec{}, err
	}
	s := effect.Spec{
		Kind:       kind,
		TypeID:     b.TypeID,
		Duration:   b.Duration,
		Factor:     b.Factor,
		Constant:   b.Constant,
		Amount:     b.Amount,
		Protection: b.Protection,
	}
	return s, s.Validate()
}

// ApplyRemoteCommand runs cmd against entity id. It reports whether the
// command was applied; duplicates are not.
func (w *World) ApplyRemoteCommand(id int, cmd Command) (bool, error) {
	e, ok := w.Entity(id)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	if cmd.Seq != 0 && cmd.Seq <= e.lastCommand {
		return false, nil
	}

	switch cmd.Type {
	case CommandPlayAction:
		e.lastAction = cmd.ActionTypeID
		if w.cfg.Observer != nil {
			a := action.New(action.KindGeneric, "remote", nil)
			a.TypeID = cmd.ActionTypeID
			w.cfg.Observer.ActionStarted(e, a)
		}
	case CommandSetHealth:
		e.influence.SetHealth(cmd.Health)
	case CommandAddBuff:
		if cmd.Buff == nil {
			return false, fmt.Errorf("%w: add_buff without buff", ErrUnknownCommand)
		}
		spec, err := cmd.Buff.Spec()
		if err != nil {
			return false, err
		}
		e.influence.Add(spec.Build())
	case CommandInfluence:
		w.AddInfluence(e, effect.DamageOverTime(cmd.SourceID, cmd.Amount))
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}

	if cmd.Seq != 0 {
		e.lastCommand = cmd.Seq
	}
	return true, nil
}
