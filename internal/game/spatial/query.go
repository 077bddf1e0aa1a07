// Package spatial answers radius and cone queries against a world registry.
//
// Queries are linear scans. The registry hands out a slice that stays
// stable for the duration of one call; entities added or removed during a
// query are not observed by it.
package spatial

import (
	"errors"
	"fmt"

	"skirmish/internal/game/geom"
)

// MaxConeHalfAngle is the widest cone a query accepts, in degrees.
const MaxConeHalfAngle = 90.0

// coneEpsilon keeps entities lying exactly on a cone edge inside the cone
// despite rounding in the rotation.
const coneEpsilon = 1e-9

var (
	// ErrConeAngle is returned for half-angles outside [0, 90] degrees.
	ErrConeAngle = errors.New("cone half-angle must be within [0, 90] degrees")
	// ErrNoDirection is returned for a cone with a zero forward vector.
	ErrNoDirection = errors.New("cone forward vector has no horizontal component")
)

// Body is anything with an identity and a position.
type Body interface {
	ID() int
	Position() geom.Vec3
}

// Registry yields the live bodies to scan.
type Registry[T Body] interface {
	Bodies() []T
}

// RegistryFunc adapts a function to Registry.
type RegistryFunc[T Body] func() []T

func (f RegistryFunc[T]) Bodies() []T { return f() }

// Predicate filters query results. A nil predicate accepts everything.
type Predicate[T Body] func(T) bool

// Pair couples a query hit with its distance from the query origin. Pairs
// are only meaningful for the call that produced them.
type Pair[T Body] struct {
	Entity   T
	Distance float64
}

// Service runs queries against one registry.
type Service[T Body] struct {
	registry Registry[T]
}

// NewService returns a query service over registry.
func NewService[T Body](registry Registry[T]) *Service[T] {
	return &Service[T]{registry: registry}
}

// WithinRadius returns every body within radius of origin that satisfies pred.
func (s *Service[T]) WithinRadius(origin geom.Vec3, radius float64, pred Predicate[T]) []Pair[T] {
	var out []Pair[T]
	for _, b := range s.registry.Bodies() {
		d := b.Position().Distance(origin)
		if d > radius {
			continue
		}
		if pred != nil && !pred(b) {
			continue
		}
		out = append(out, Pair[T]{Entity: b, Distance: d})
	}
	return out
}

// WithinRadiusOf is WithinRadius centered on self, excluding self.
func (s *Service[T]) WithinRadiusOf(self T, radius float64, pred Predicate[T]) []Pair[T] {
	id := self.ID()
	return s.WithinRadius(self.Position(), radius, func(b T) bool {
		if b.ID() == id {
			return false
		}
		return pred == nil || pred(b)
	})
}

// WithinCone returns bodies within rng of origin that lie inside the cone of
// halfAngle degrees around forward. Bodies on a cone edge are included.
func (s *Service[T]) WithinCone(origin, forward geom.Vec3, rng, halfAngle float64, pred Predicate[T]) ([]Pair[T], error) {
	cone, err := NewCone(origin, forward, halfAngle)
	if err != nil {
		return nil, err
	}
	hits := s.WithinRadius(origin, rng, pred)
	n := 0
	for _, p := range hits {
		if cone.Contains(p.Entity.Position()) {
			hits[n] = p
			n++
		}
	}
	return hits[:n], nil
}

// Cone is the intersection of two vertical half-spaces through an apex.
type Cone struct {
	apex        geom.Vec3
	left, right geom.Vec3 // Inward normals
}

// NewCone builds a cone opening along forward. halfAngle is in degrees.
func NewCone(apex, forward geom.Vec3, halfAngle float64) (Cone, error) {
	if halfAngle < 0 || halfAngle > MaxConeHalfAngle {
		return Cone{}, fmt.Errorf("%w: got %v", ErrConeAngle, halfAngle)
	}
	dir := forward.Flat().Normalize()
	if dir == geom.Zero {
		return Cone{}, ErrNoDirection
	}

	rad := geom.Radians(halfAngle)
	l := dir.RotateY(rad)
	r := dir.RotateY(-rad)

	return Cone{
		apex:  apex,
		left:  geom.V(-l.Z, 0, l.X),
		right: geom.V(r.Z, 0, -r.X),
	}, nil
}

// Contains reports whether p is on the non-negative side of both planes.
func (c Cone) Contains(p geom.Vec3) bool {
	d := p.Sub(c.apex)
	return d.Dot(c.left) >= -coneEpsilon && d.Dot(c.right) >= -coneEpsilon
}

// Closest returns the pair with the smallest distance. Ties go to the
// earliest pair. ok is false for an empty slice.
func Closest[T Body](pairs []Pair[T]) (best Pair[T], ok bool) {
	for i, p := range pairs {
		if i == 0 || p.Distance < best.Distance {
			best = p
			ok = true
		}
	}
	return best, ok
}

// Entities strips distances from pairs.
func Entities[T Body](pairs []Pair[T]) []T {
	out := make([]T, len(pairs))
	for i, p := range pairs {
		out[i] = p.Entity
	}
	return out
}
