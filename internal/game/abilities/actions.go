// Package abilities builds the concrete action variants spells are made of:
// charges, splashes, self buffs, ground hazards, tosses, knockups, leaps and
// cone strikes.
package abilities

import (
	"fmt"

	"skirmish/internal/game/action"
	"skirmish/internal/game/effect"
	"skirmish/internal/game/geom"
	"skirmish/internal/game/interaction"
	"skirmish/internal/game/spatial"
	"skirmish/internal/game/world"
)

// Tuning shared by several actions.
const (
	ChargeHitRadius = 4.0   // Distance at which a charge connects
	TossPickRange   = 20.0  // How far Toss reaches for a target
	TossSpeed       = 105.0 // Horizontal speed of a tossed body
	LeapSpeed       = 60.0  // Horizontal speed of a leap
)

// Charge drives the caster along dir at a pinned speed until it has
// covered rng or touched an enemy. onHit runs for the enemy touched, onDone
// runs once when the charge stops for any reason but interruption.
func Charge(w *world.World, caster *world.Entity, dir geom.Vec3, rng, speed float64, onHit func(target *world.Entity), onDone func()) *action.Action {
	traveled := 0.0
	started := false
	enemies := w.Enemies(caster)

	a := action.New(action.KindCharge, "charge", func(dt float64) bool {
		if !started {
			started = true
			caster.Influence().SetSpeedConstant(true)
			caster.Stats().SpeedCurrent = speed
			caster.Dictate(dir)
			return true
		}

		hits := w.Query().WithinRadiusOf(caster, ChargeHitRadius, enemies)
		if best, ok := spatial.Closest(hits); ok {
			if onHit != nil {
				onHit(best.Entity)
			}
			if onDone != nil {
				onDone()
			}
			return false
		}

		traveled += speed * dt
		if traveled >= rng {
			if onDone != nil {
				onDone()
			}
			return false
		}
		return true
	})
	a.OnEnd = func() {
		caster.Influence().SetSpeedConstant(false)
		caster.Dictate(geom.Zero)
	}
	return a
}

// SplashAt runs s centered on where(), evaluated when the action runs.
func SplashAt(w *world.World, caster *world.Entity, where func() geom.Vec3, s interaction.Splash[*world.Entity]) *action.Action {
	return action.Once(action.KindSplash, "splash", func() {
		w.Splash(caster, where(), s, w.Enemies(caster))
	})
}

// CastSelfBuff attaches fresh effects from builders to the caster.
func CastSelfBuff(caster *world.Entity, builders []effect.Builder) *action.Action {
	return action.Once(action.KindCastSelfBuff, "self_buff", func() {
		for _, b := range builders {
			caster.Influence().Add(b.Build())
		}
	})
}

// Hazard describes an area left on the ground.
type Hazard struct {
	Name     string
	Radius   float64
	Delay    float64 // Seconds before the area becomes active
	Lifetime float64
	DPS      float64
	Slow     float64 // One-tick slow factor, zero for none
}

// CastOnGround spawns h at target, owned by the caster's team.
func CastOnGround(w *world.World, caster *world.Entity, target geom.Vec3, h Hazard) *action.Action {
	return action.Once(action.KindCastOnGround, "cast_on_ground", func() {
		_, _ = w.AddEntity(world.Spawn{
			Name:     h.Name,
			Kind:     world.KindHazard,
			Team:     caster.Team(),
			Position: target,
			Health:   1,
			Lifetime: h.Lifetime,
			Behavior: AreaHazard(w, caster, h),
		})
	})
}

// AreaHazard is the behavior of a ground hazard: after its delay it queues
// damage and slow influences on every enemy of owner inside the radius,
// once per tick.
func AreaHazard(w *world.World, owner *world.Entity, h Hazard) world.Behavior {
	elapsed := 0.0
	enemies := w.Enemies(owner)
	return func(e *world.Entity, dt float64) {
		elapsed += dt
		if elapsed < h.Delay {
			return
		}
		for _, p := range w.Query().WithinRadius(e.Position(), h.Radius, enemies) {
			if h.DPS > 0 {
				w.AddInfluence(p.Entity, effect.DamageOverTime(owner.ID(), h.DPS))
			}
			if h.Slow > 0 {
				w.AddInfluence(p.Entity, effect.SlowPulse(owner.ID(), h.Slow))
			}
		}
	}
}

// Knockup throws target upward and optionally incapacitates it. It is
// scheduled on the target's own queue.
func Knockup(target *world.Entity, impulse, incapacitate float64) *action.Action {
	return action.Once(action.KindKnockup, "knockup", func() {
		target.ApplyImpulse(geom.V(0, impulse, 0))
		if incapacitate > 0 {
			// Clears this queue, this action included.
			target.Influence().AddCrowdControl(effect.Incapacitate(incapacitate))
		}
	})
}

// Arc moves body from its current position to dest along a parabola of the
// given peak height at horizontal speed, then runs land. Interrupting it
// leaves the body to fall where it is.
func Arc(kind action.Kind, body *world.Entity, dest geom.Vec3, speed, height float64, land func()) *action.Action {
	var start geom.Vec3
	duration, elapsed := 0.0, 0.0
	started := false

	return action.New(kind, kind.String(), func(dt float64) bool {
		if !started {
			started = true
			start = body.Position()
			duration = start.Flat().Distance(dest.Flat()) / speed
		}
		elapsed += dt
		t := 1.0
		if duration > 0 {
			t = min(elapsed/duration, 1)
		}

		p := start.Add(dest.Sub(start).Scale(t))
		p.Y += 4 * height * t * (1 - t)
		body.SetPosition(p)

		if t < 1 {
			return true
		}
		if land != nil {
			land()
		}
		return false
	})
}

// Toss grabs the closest other character near the caster, clears its queue
// and throws it to target. On landing the thrown body splashes enemies of
// the caster and, if it is an enemy itself, takes damage too.
func Toss(w *world.World, caster *world.Entity, target geom.Vec3, splash interaction.Splash[*world.Entity], impactDamage float64) *action.Action {
	return action.Once(action.KindToss, "toss", func() {
		hits := w.Query().WithinRadiusOf(caster, TossPickRange, func(o *world.Entity) bool {
			return o.Kind() == world.KindCharacter && o.Alive()
		})
		best, ok := spatial.Closest(hits)
		if !ok {
			return
		}
		victim := best.Entity
		enemy := w.Enemies(caster)(victim)

		victim.StopMovement()
		victim.ClearActions()
		victim.Actions().Enqueue(Arc(action.KindToss, victim, target, TossSpeed, target.Distance(victim.Position())/2, func() {
			enemies := w.Enemies(caster)
			w.Splash(caster, victim.Position(), splash, func(o *world.Entity) bool {
				return o != victim && enemies(o)
			})
			if enemy {
				w.Harm(caster, victim, impactDamage, nil, true)
			}
		}))
	})
}

// Leap arcs the caster to target; on landing the closest enemy within
// radius takes damage scaled by the caster's damage factor plus buffs.
func Leap(w *world.World, caster *world.Entity, target geom.Vec3, radius, damage float64, buffs []effect.Builder) *action.Action {
	return Arc(action.KindLeap, caster, target, LeapSpeed, 8, func() {
		hits := w.Query().WithinRadiusOf(caster, radius, w.Enemies(caster))
		if best, ok := spatial.Closest(hits); ok {
			w.Harm(caster, best.Entity, damage*caster.Stats().DamageFactor, buffs, true)
		}
	})
}

// ConeStrike hits the closest enemy inside the caster's facing cone. It
// fails with spatial.ErrConeAngle when halfAngle is out of range.
func ConeStrike(w *world.World, caster *world.Entity, rng, halfAngle, damage float64, buffs []effect.Builder) (*action.Action, error) {
	if halfAngle < 0 || halfAngle > spatial.MaxConeHalfAngle {
		return nil, fmt.Errorf("%w: got %v", spatial.ErrConeAngle, halfAngle)
	}
	return action.Once(action.KindConeStrike, "cone_strike", func() {
		hits, err := w.Query().WithinCone(caster.Position(), caster.Facing(), rng, halfAngle, w.Enemies(caster))
		if err != nil {
			// No facing, nothing to aim at
			return
		}
		if best, ok := spatial.Closest(hits); ok {
			w.Harm(caster, best.Entity, damage*caster.Stats().DamageFactor, buffs, true)
		}
	}), nil
}
