package world

import (
	"skirmish/internal/game/action"
	"skirmish/internal/game/effect"
	"skirmish/internal/game/geom"
	"skirmish/internal/game/influence"
	"skirmish/internal/game/stat"
)

// Kind classifies entities.
type Kind uint8

const (
	KindCharacter Kind = iota
	KindHazard
	KindProjectile
)

func (k Kind) String() string {
	switch k {
	case KindCharacter:
		return "character"
	case KindHazard:
		return "hazard"
	case KindProjectile:
		return "projectile"
	}
	return "unknown"
}

// Behavior runs every tick after the entity's action queue.
type Behavior func(e *Entity, dt float64)

// Entity is one simulated object. It owns exactly one stat block, influence
// aggregator and action queue for its whole life.
type Entity struct {
	id     int
	name   string
	kind   Kind
	team   int
	player bool

	stats     *stat.Block
	influence *influence.Aggregator
	actions   *action.Queue
	body      Body

	casting        bool
	castingEnabled bool
	castWhile      bool // Current cast tolerates movement
	spells         map[string]*Spell
	cooldowns      map[string]float64

	lifetime float64 // Seconds left, zero means unbounded
	behavior Behavior

	lastAction   int // TypeID of the last started action
	lastAttacker int
	removed      bool

	// Replica bookkeeping.
	lastSnapshot uint64
	lastCommand  uint64
	remoteBuffs  []effect.Summary

	world *World
}

func (e *Entity) ID() int                          { return e.id }
func (e *Entity) Name() string                     { return e.name }
func (e *Entity) Kind() Kind                       { return e.kind }
func (e *Entity) Team() int                        { return e.team }
func (e *Entity) Player() bool                     { return e.player }
func (e *Entity) Stats() *stat.Block               { return e.stats }
func (e *Entity) Influence() *influence.Aggregator { return e.influence }
func (e *Entity) Actions() *action.Queue           { return e.actions }
func (e *Entity) Body() *Body                      { return &e.body }
func (e *Entity) Position() geom.Vec3              { return e.body.position }
func (e *Entity) Facing() geom.Vec3                { return e.body.facing }
func (e *Entity) Casting() bool                    { return e.casting }
func (e *Entity) Removed() bool                    { return e.removed }
func (e *Entity) World() *World                    { return e.world }

// Alive reports whether the entity is attached and not dead.
func (e *Entity) Alive() bool {
	return !e.removed && !e.influence.IsDead()
}

// ApplyImpulse pushes the entity's body.
func (e *Entity) ApplyImpulse(impulse geom.Vec3) {
	e.body.ApplyImpulse(impulse)
}

// SetPosition teleports the entity.
func (e *Entity) SetPosition(p geom.Vec3) {
	e.body.SetPosition(p)
}

// Face turns the entity toward a point on the ground plane.
func (e *Entity) Face(target geom.Vec3) {
	if dir := target.Sub(e.body.position).Flat().Normalize(); dir != geom.Zero {
		e.body.facing = dir
	}
}

// SetWalkDirection sets the input-driven movement direction.
func (e *Entity) SetWalkDirection(dir geom.Vec3) {
	e.body.walk = dir.Flat().Normalize()
	if e.body.walk != geom.Zero {
		e.body.facing = e.body.walk
	}
}

// Dictate forces movement along dir regardless of input, as charges do.
// A zero dir releases control.
func (e *Entity) Dictate(dir geom.Vec3) {
	e.body.dictated = dir.Flat().Normalize()
	if e.body.dictated != geom.Zero {
		e.body.facing = e.body.dictated
	}
}

// Moving reports whether the entity is driven this tick.
func (e *Entity) Moving() bool {
	return e.body.walk != geom.Zero || e.body.dictated != geom.Zero
}

// Cooldown returns the seconds left on spell name.
func (e *Entity) Cooldown(name string) float64 {
	return e.cooldowns[name]
}

// Spells returns the entity's spell book.
func (e *Entity) Spells() map[string]*Spell {
	return e.spells
}

// LastAction returns the TypeID of the last action that started.
func (e *Entity) LastAction() int {
	return e.lastAction
}

// influence.Host

func (e *Entity) StopMovement() {
	e.body.stop()
}

func (e *Entity) AdvanceMovement(dt float64) {
	drive := e.body.dictated
	if drive == geom.Zero && e.influence.CanMove() && !e.influence.IsDead() {
		drive = e.body.walk
	}
	bound := 0.0
	if e.kind == KindCharacter && e.world != nil {
		bound = e.world.cfg.ArenaSize / 2
	}
	e.body.integrate(drive, e.stats.SpeedCurrent, dt, bound)
}

func (e *Entity) InterruptCast() {
	e.casting = false
	e.castWhile = false
}

func (e *Entity) DisableCasting() {
	e.castingEnabled = false
	e.casting = false
}

func (e *Entity) ClearActions() {
	e.actions.Clear()
}

// tickCooldowns counts spell cooldowns down and drops finished ones.
func (e *Entity) tickCooldowns(dt float64) {
	for name, left := range e.cooldowns {
		if left -= dt; left <= 0 {
			delete(e.cooldowns, name)
		} else {
			e.cooldowns[name] = left
		}
	}
}
