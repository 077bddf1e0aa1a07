package interaction

import (
	"skirmish/internal/game/effect"
	"skirmish/internal/game/geom"
	"skirmish/internal/game/spatial"
)

// Falloff selects how splash strength scales with distance.
type Falloff uint8

const (
	// FalloffLinear scales by 1 - distance/radius.
	FalloffLinear Falloff = iota
	// FalloffConstant applies full strength anywhere in the radius.
	FalloffConstant
)

// Factor returns the multiplier for a hit at distance from the center.
func (f Falloff) Factor(distance, radius float64) float64 {
	if f == FalloffConstant || radius <= 0 {
		return 1
	}
	return max(0, 1-distance/radius)
}

// Body is a splash target: queryable, harmable and pushable.
type Body interface {
	spatial.Body
	Party
	ApplyImpulse(impulse geom.Vec3)
}

// Splash is an area interaction centered on a point.
type Splash[T Body] struct {
	Radius  float64
	Damage  float64
	Falloff Falloff
	Attack  bool

	// Impulse is the knockback magnitude at the center, scaled by
	// ImpulseFactor and linearly by distance whatever the damage falloff.
	// Zero disables knockback.
	Impulse       float64
	ImpulseFactor float64
	// CustomImpulse, when set, replaces the computed knockback and is
	// applied unscaled.
	CustomImpulse func(target T, origin geom.Vec3) geom.Vec3

	Buffs []effect.Builder
}

// Apply harms every body within Radius of origin accepted by filter and
// returns the resulting hits in query order.
func (s Splash[T]) Apply(svc *spatial.Service[T], source Party, origin geom.Vec3, filter spatial.Predicate[T], rec Recorder) []Hit {
	pairs := svc.WithinRadius(origin, s.Radius, filter)
	hits := make([]Hit, 0, len(pairs))

	for _, p := range pairs {
		target := p.Entity
		factor := s.Falloff.Factor(p.Distance, s.Radius)

		hits = append(hits, Harm(source, target, s.Damage*factor, s.Buffs, s.Attack, rec))

		if s.CustomImpulse != nil {
			target.ApplyImpulse(s.CustomImpulse(target, origin))
			continue
		}
		if s.Impulse == 0 {
			continue
		}
		dir := target.Position().Sub(origin).Flat().Normalize()
		scale := s.ImpulseFactor
		if scale == 0 {
			scale = 1
		}
		target.ApplyImpulse(dir.Scale(s.Impulse * scale * FalloffLinear.Factor(p.Distance, s.Radius)))
	}

	return hits
}
