package world

import (
	"errors"
	"fmt"

	"skirmish/internal/game/action"
	"skirmish/internal/game/geom"
)

var (
	ErrUnknownSpell = errors.New("unknown spell")
	ErrOnCooldown   = errors.New("spell on cooldown")
	ErrCannotCast   = errors.New("entity cannot cast")
)

// Spell is a castable ability. Build turns a validated cast into the
// actions that carry it out; it runs once per cast.
type Spell struct {
	Name            string
	TypeID          int
	Cooldown        float64
	Range           float64
	CastTime        float64
	CastWhileMoving bool

	Build func(w *World, caster *Entity, target geom.Vec3) []*action.Action
}

// Cast validates and schedules spell name for entity id toward target.
// The target is clamped to the spell's range on the ground plane.
func (w *World) Cast(id int, name string, target geom.Vec3) error {
	e, ok := w.Entity(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	spell, ok := e.spells[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSpell, name)
	}
	if !e.castingEnabled || e.casting || e.influence.IsDead() || !e.influence.CanCast() {
		return ErrCannotCast
	}
	if left := e.cooldowns[name]; left > 0 {
		return fmt.Errorf("%w: %.2fs left", ErrOnCooldown, left)
	}

	castWhile := spell.CastWhileMoving || e.influence.IsAbleToCastWhileMoving()
	if !castWhile {
		e.body.walk = geom.Zero
	}

	origin := e.Position()
	target.Y = origin.Y
	if spell.Range > 0 {
		target = geom.ClampDistance(origin, target, spell.Range)
	}
	e.Face(target)

	if spell.Cooldown > 0 {
		e.cooldowns[name] = spell.Cooldown
	}

	e.casting = true
	e.castWhile = castWhile
	e.actions.Enqueue(castingAction(e, spell))
	if spell.Build != nil {
		for _, a := range spell.Build(w, e, target) {
			e.actions.Enqueue(a)
		}
	}
	return nil
}

// castingAction keeps the caster in the casting state for the spell's cast
// time. Ending it, naturally or by interruption, ends the cast.
func castingAction(e *Entity, spell *Spell) *action.Action {
	remaining := spell.CastTime
	a := action.New(action.KindCasting, spell.Name, func(dt float64) bool {
		remaining -= dt
		return remaining > 0
	})
	a.TypeID = spell.TypeID
	a.OnEnd = func() {
		e.casting = false
		e.castWhile = false
	}
	return a
}
