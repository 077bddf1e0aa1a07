// Package world owns the entity registry and drives one simulation tick:
// influence aggregation, then action queues, then entity behaviors.
//
// A World is not safe for concurrent use. The engine serializes access.
package world

import (
	"errors"
	"fmt"
	"runtime/debug"
	"slices"

	"github.com/sirupsen/logrus"

	"skirmish/internal/game/action"
	"skirmish/internal/game/effect"
	"skirmish/internal/game/geom"
	"skirmish/internal/game/influence"
	"skirmish/internal/game/interaction"
	"skirmish/internal/game/spatial"
	"skirmish/internal/game/stat"
	"skirmish/internal/logger"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrDuplicateID   = errors.New("entity id already in use")
	ErrWorldFull     = errors.New("world entity limit reached")
)

// RemovalReason explains why an entity left the world.
type RemovalReason string

const (
	RemovalExpired      RemovalReason = "expired"
	RemovalKilled       RemovalReason = "killed"
	RemovalDisconnected RemovalReason = "disconnected"
	RemovalReplaced     RemovalReason = "replaced"
)

// Observer is notified of lifecycle changes. Methods run synchronously on
// the simulation goroutine.
type Observer interface {
	EntityAdded(e *Entity)
	EntityRemoved(e *Entity, reason RemovalReason)
	ActionStarted(e *Entity, a *action.Action)
	Died(e *Entity, killerID int)
}

// Config customizes a World.
type Config struct {
	Authoritative bool
	ArenaSize     float64
	MaxEntities   int // Zero means unbounded

	Recorder interaction.Recorder // May be nil
	Observer Observer             // May be nil
	Cues     influence.Cues       // Replica presentation, may be nil
}

// Spawn describes a new entity.
type Spawn struct {
	Name     string
	Kind     Kind
	Team     int
	Player   bool
	Position geom.Vec3
	Facing   geom.Vec3
	Health   float64
	Speed    float64
	Spells   []*Spell
	Lifetime float64
	Behavior Behavior
}

type removal struct {
	id     int
	reason RemovalReason
}

// World is the authoritative (or replica) entity registry.
type World struct {
	cfg Config

	entities map[int]*Entity
	order    []int
	nextID   int
	tick     uint64

	ticking bool
	pending []removal

	query *spatial.Service[*Entity]
	log   *logrus.Entry
}

// New returns an empty world.
func New(cfg Config) *World {
	w := &World{
		cfg:      cfg,
		entities: make(map[int]*Entity),
		log:      logger.Component("world"),
	}
	w.query = spatial.NewService[*Entity](spatial.RegistryFunc[*Entity](w.Bodies))
	return w
}

// Authoritative reports whether this world is the source of truth.
func (w *World) Authoritative() bool {
	return w.cfg.Authoritative
}

// TickCount returns the number of completed ticks.
func (w *World) TickCount() uint64 {
	return w.tick
}

// Query returns the spatial query service over this world.
func (w *World) Query() *spatial.Service[*Entity] {
	return w.query
}

// Bodies returns the attached entities in insertion order. The slice is a
// fresh copy, stable for the caller.
func (w *World) Bodies() []*Entity {
	out := make([]*Entity, 0, len(w.order))
	for _, id := range w.order {
		if e := w.entities[id]; e != nil && !e.removed {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of attached entities.
func (w *World) Len() int {
	return len(w.entities)
}

// Entity looks up an attached entity.
func (w *World) Entity(id int) (*Entity, bool) {
	e, ok := w.entities[id]
	if !ok || e.removed {
		return nil, false
	}
	return e, true
}

// AddEntity attaches a new entity under the next free id.
func (w *World) AddEntity(s Spawn) (*Entity, error) {
	w.nextID++
	return w.attach(w.nextID, s)
}

// AddEntityWithID attaches an entity under an id chosen elsewhere, as
// replicas do. Later AddEntity calls never reuse it.
func (w *World) AddEntityWithID(id int, s Spawn) (*Entity, error) {
	if _, ok := w.entities[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	if id > w.nextID {
		w.nextID = id
	}
	return w.attach(id, s)
}

func (w *World) attach(id int, s Spawn) (*Entity, error) {
	if w.cfg.MaxEntities > 0 && len(w.entities) >= w.cfg.MaxEntities {
		return nil, ErrWorldFull
	}

	health := s.Health
	if health <= 0 {
		health = 1
	}

	e := &Entity{
		id:             id,
		name:           s.Name,
		kind:           s.Kind,
		team:           s.Team,
		player:         s.Player,
		stats:          stat.New(health, s.Speed),
		body:           newBody(s.Position, s.Facing),
		castingEnabled: true,
		spells:         make(map[string]*Spell, len(s.Spells)),
		cooldowns:      make(map[string]float64),
		lifetime:       s.Lifetime,
		behavior:       s.Behavior,
		lastAction:     action.NoTypeID,
		world:          w,
	}
	for _, sp := range s.Spells {
		e.spells[sp.Name] = sp
	}

	e.actions = action.NewQueue(func(a *action.Action) {
		e.lastAction = a.TypeID
		if w.cfg.Observer != nil {
			w.cfg.Observer.ActionStarted(e, a)
		}
	})
	e.influence = influence.New(e.stats, e, influence.Config{
		Authoritative: w.cfg.Authoritative,
		Cues:          w.cfg.Cues,
		OnDeath:       func() { w.died(e) },
	})

	w.entities[id] = e
	w.order = append(w.order, id)

	if w.cfg.Observer != nil {
		w.cfg.Observer.EntityAdded(e)
	}
	return e, nil
}

// RemoveEntity detaches an entity: its queue is disabled and its effects are
// destroyed before the id disappears. Removal requested during a tick
// happens when the tick ends.
func (w *World) RemoveEntity(id int, reason RemovalReason) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	if w.ticking {
		if !slices.ContainsFunc(w.pending, func(r removal) bool { return r.id == id }) {
			w.pending = append(w.pending, removal{id: id, reason: reason})
		}
		return nil
	}
	w.detach(e, reason)
	return nil
}

func (w *World) detach(e *Entity, reason RemovalReason) {
	e.removed = true
	e.actions.SetEnabled(false)
	e.influence.Detach()
	e.body.stop()

	delete(w.entities, e.id)
	if i := slices.Index(w.order, e.id); i >= 0 {
		w.order = slices.Delete(w.order, i, i+1)
	}

	w.log.WithFields(logrus.Fields{
		"entity": e.id,
		"reason": reason,
	}).Debug("entity removed")

	if w.cfg.Observer != nil {
		w.cfg.Observer.EntityRemoved(e, reason)
	}
}

// Tick advances every attached entity by dt seconds. A panic in one
// entity's step is logged and does not stop the others.
func (w *World) Tick(dt float64) {
	w.tick++
	w.ticking = true

	for _, e := range w.Bodies() {
		if e.removed {
			continue
		}
		w.tickEntity(e, dt)
	}

	w.ticking = false
	pending := w.pending
	w.pending = nil
	for _, r := range pending {
		if e, ok := w.entities[r.id]; ok {
			w.detach(e, r.reason)
		}
	}
}

func (w *World) tickEntity(e *Entity, dt float64) {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithFields(logrus.Fields{
				"entity": e.id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("entity tick failed")
		}
	}()

	e.influence.Tick(dt)
	e.actions.Tick(dt)
	e.tickCooldowns(dt)

	if e.behavior != nil && !e.removed {
		e.behavior(e, dt)
	}

	if e.lifetime > 0 {
		if e.lifetime -= dt; e.lifetime <= 0 {
			_ = w.RemoveEntity(e.id, RemovalExpired)
		}
	}
}

func (w *World) died(e *Entity) {
	e.actions.Clear()
	w.log.WithFields(logrus.Fields{
		"entity": e.id,
		"killer": e.lastAttacker,
	}).Debug("entity died")
	if w.cfg.Observer != nil {
		w.cfg.Observer.Died(e, e.lastAttacker)
	}
}

// Harm resolves damage from source (nil for the environment) to target and
// reports it to the world's recorder.
func (w *World) Harm(source, target *Entity, raw float64, buffs []effect.Builder, isAttack bool) interaction.Hit {
	var src interaction.Party
	if source != nil {
		src = source
		target.lastAttacker = source.id
	}
	return interaction.Harm(src, target, raw, buffs, isAttack, w.cfg.Recorder)
}

// Splash runs an area interaction from source, which may be nil.
func (w *World) Splash(source *Entity, origin geom.Vec3, s interaction.Splash[*Entity], filter spatial.Predicate[*Entity]) []interaction.Hit {
	var src interaction.Party
	if source != nil {
		src = source
		wrapped := filter
		filter = func(e *Entity) bool {
			if wrapped != nil && !wrapped(e) {
				return false
			}
			e.lastAttacker = source.id
			return true
		}
	}
	return s.Apply(w.query, src, origin, filter, w.cfg.Recorder)
}

// AddInfluence queues a one-shot influence on target, attributing any
// damage it deals to inf.SourceID.
func (w *World) AddInfluence(target *Entity, inf effect.Influence) {
	if inf.Kind == effect.InfluenceDamage && inf.SourceID != 0 {
		target.lastAttacker = inf.SourceID
		if w.cfg.Recorder != nil {
			src, tgt := inf.SourceID, target.id
			inf.Report = func(dealt float64) {
				w.cfg.Recorder.RecordHit(interaction.Hit{
					SourceID: src,
					TargetID: tgt,
					Raw:      dealt,
					Dealt:    dealt,
					Killed:   target.influence.IsDead(),
				})
			}
		}
	}
	target.influence.AddInfluence(inf)
}

// Enemies returns a predicate accepting living characters hostile to e.
// Team zero is hostile to everyone.
func (w *World) Enemies(e *Entity) spatial.Predicate[*Entity] {
	return func(o *Entity) bool {
		if o.id == e.id || o.kind != KindCharacter || !o.Alive() {
			return false
		}
		return e.team == 0 || o.team != e.team
	}
}

// Allies returns a predicate accepting living characters on e's team,
// e included.
func (w *World) Allies(e *Entity) spatial.Predicate[*Entity] {
	return func(o *Entity) bool {
		return o.kind == KindCharacter && o.Alive() && e.team != 0 && o.team == e.team
	}
}

// Walk steers an entity. Moving interrupts a cast that cannot be moved
// through.
func (w *World) Walk(id int, dir geom.Vec3) error {
	e, ok := w.Entity(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	if !e.influence.CanControlMovement() || e.influence.IsDead() {
		return nil
	}
	e.SetWalkDirection(dir)
	if e.Moving() && e.casting && !e.castWhile && !e.influence.IsAbleToCastWhileMoving() {
		e.InterruptCast()
		e.actions.Clear()
	}
	return nil
}
