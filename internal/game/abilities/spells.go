package abilities

import (
	"errors"
	"fmt"

	"skirmish/internal/game/action"
	"skirmish/internal/game/effect"
	"skirmish/internal/game/geom"
	"skirmish/internal/game/interaction"
	"skirmish/internal/game/spatial"
	"skirmish/internal/game/world"
)

// Spell shapes a Definition can take.
const (
	ShapeConeStrike   = "cone_strike"
	ShapeSplash       = "splash"
	ShapeSelfBuff     = "self_buff"
	ShapeGroundHazard = "ground_hazard"
	ShapeToss         = "toss"
	ShapeLeap         = "leap"
	ShapeCharge       = "charge"
	ShapeEarthquake   = "earthquake"
)

var ErrUnknownShape = errors.New("unknown spell shape")

// Definition is a data-driven spell. Which fields matter depends on Shape.
type Definition struct {
	Name            string
	TypeID          int
	Shape           string
	Cooldown        float64
	Range           float64
	CastTime        float64
	CastWhileMoving bool

	Damage    float64
	Radius    float64
	HalfAngle float64 // Degrees
	Speed     float64
	Impulse   float64
	Falloff   interaction.Falloff

	// Secondary stage: toss impact, charge hit, earthquake knockup.
	SecondaryDamage float64
	SecondaryRadius float64

	Hazard Hazard
	Buffs  []effect.Builder // Applied to targets
}

// NewSpell validates d and returns the castable spell.
func NewSpell(d Definition) (*world.Spell, error) {
	if d.Name == "" {
		return nil, errors.New("spell needs a name")
	}
	for i, b := range d.Buffs {
		if b == nil {
			return nil, fmt.Errorf("spell %q: buff %d has no builder", d.Name, i)
		}
	}

	var build func(w *world.World, caster *world.Entity, target geom.Vec3) []*action.Action

	switch d.Shape {
	case ShapeConeStrike:
		if d.HalfAngle < 0 || d.HalfAngle > spatial.MaxConeHalfAngle {
			return nil, fmt.Errorf("spell %q: %w: got %v", d.Name, spatial.ErrConeAngle, d.HalfAngle)
		}
		build = func(w *world.World, caster *world.Entity, _ geom.Vec3) []*action.Action {
			a, err := ConeStrike(w, caster, d.Range, d.HalfAngle, d.Damage, d.Buffs)
			if err != nil {
				return nil
			}
			return []*action.Action{a}
		}

	case ShapeSplash:
		build = func(w *world.World, caster *world.Entity, target geom.Vec3) []*action.Action {
			return []*action.Action{SplashAt(w, caster, func() geom.Vec3 { return target }, d.splash(caster))}
		}

	case ShapeSelfBuff:
		build = func(_ *world.World, caster *world.Entity, _ geom.Vec3) []*action.Action {
			return []*action.Action{CastSelfBuff(caster, d.Buffs)}
		}

	case ShapeGroundHazard:
		if d.Hazard.Radius <= 0 {
			return nil, fmt.Errorf("spell %q: hazard radius must be positive", d.Name)
		}
		h := d.Hazard
		if h.Name == "" {
			h.Name = d.Name
		}
		build = func(w *world.World, caster *world.Entity, target geom.Vec3) []*action.Action {
			return []*action.Action{CastOnGround(w, caster, target, h)}
		}

	case ShapeToss:
		build = func(w *world.World, caster *world.Entity, target geom.Vec3) []*action.Action {
			s := d.splash(caster)
			s.Falloff = interaction.FalloffConstant
			return []*action.Action{Toss(w, caster, target, s, d.SecondaryDamage)}
		}

	case ShapeLeap:
		build = func(w *world.World, caster *world.Entity, target geom.Vec3) []*action.Action {
			return []*action.Action{Leap(w, caster, target, d.Radius, d.Damage, d.Buffs)}
		}

	case ShapeCharge:
		if d.Speed <= 0 {
			return nil, fmt.Errorf("spell %q: charge speed must be positive", d.Name)
		}
		build = func(w *world.World, caster *world.Entity, target geom.Vec3) []*action.Action {
			dir := target.Sub(caster.Position())
			return []*action.Action{Charge(w, caster, dir, d.Range, d.Speed, func(t *world.Entity) {
				w.Harm(caster, t, d.Damage*caster.Stats().DamageFactor, d.Buffs, true)
			}, nil)}
		}

	case ShapeEarthquake:
		if d.Speed <= 0 {
			return nil, fmt.Errorf("spell %q: charge speed must be positive", d.Name)
		}
		build = func(w *world.World, caster *world.Entity, target geom.Vec3) []*action.Action {
			return []*action.Action{d.earthquake(w, caster, target)}
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownShape, d.Shape)
	}

	return &world.Spell{
		Name:            d.Name,
		TypeID:          d.TypeID,
		Cooldown:        d.Cooldown,
		Range:           d.Range,
		CastTime:        d.CastTime,
		CastWhileMoving: d.CastWhileMoving,
		Build:           build,
	}, nil
}

func (d Definition) splash(caster *world.Entity) interaction.Splash[*world.Entity] {
	return interaction.Splash[*world.Entity]{
		Radius:        d.Radius,
		Damage:        d.Damage * caster.Stats().DamageFactor,
		Falloff:       d.Falloff,
		Attack:        true,
		Impulse:       d.Impulse,
		ImpulseFactor: caster.Stats().ImpulseFactor,
		Buffs:         d.Buffs,
	}
}

// earthquake charges toward target, hitting the first enemy for
// SecondaryDamage, then splashes around the caster and knocks every enemy
// in SecondaryRadius into the air.
func (d Definition) earthquake(w *world.World, caster *world.Entity, target geom.Vec3) *action.Action {
	dir := target.Sub(caster.Position())
	return Charge(w, caster, dir, d.Range, d.Speed,
		func(t *world.Entity) {
			w.Harm(caster, t, d.SecondaryDamage*caster.Stats().DamageFactor, nil, true)
		},
		func() {
			w.Splash(caster, caster.Position(), d.splash(caster), w.Enemies(caster))
			radius := d.SecondaryRadius
			if radius <= 0 {
				radius = d.Radius
			}
			for _, p := range w.Query().WithinRadiusOf(caster, radius, w.Enemies(caster)) {
				p.Entity.Actions().Enqueue(Knockup(p.Entity, d.Impulse, 0))
			}
		},
	)
}
