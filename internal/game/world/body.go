package world

import "skirmish/internal/game/geom"

// Kinematic constants for the body stand-in.
const (
	Gravity  = 98.0 // Units per second squared
	Friction = 4.0  // Horizontal velocity decay per second
)

// Body is the minimal physics stand-in the simulation consults: a position,
// a velocity fed by impulses, and the directions movement is driven along.
type Body struct {
	position geom.Vec3
	velocity geom.Vec3
	facing   geom.Vec3

	walk     geom.Vec3 // Player or AI chosen direction, unit length or zero
	dictated geom.Vec3 // Action chosen direction, overrides walk
}

func newBody(pos, facing geom.Vec3) Body {
	if facing.Flat().Normalize() == geom.Zero {
		facing = geom.V(0, 0, 1)
	}
	return Body{position: pos, facing: facing.Flat().Normalize()}
}

// ApplyImpulse adds to the velocity. Bodies have unit mass.
func (b *Body) ApplyImpulse(impulse geom.Vec3) {
	b.velocity = b.velocity.Add(impulse)
}

// SetPosition teleports the body and cancels its velocity.
func (b *Body) SetPosition(p geom.Vec3) {
	b.position = p
	b.velocity = geom.Zero
}

// Airborne reports whether the body is off the ground.
func (b *Body) Airborne() bool {
	return b.position.Y > 0 || b.velocity.Y > 0
}

func (b *Body) stop() {
	b.walk = geom.Zero
	b.dictated = geom.Zero
}

// integrate advances the body by dt at the given drive speed. drive is the
// direction movement pushes the body, already filtered by crowd-control.
func (b *Body) integrate(drive geom.Vec3, speed, dt, bound float64) {
	b.position = b.position.Add(drive.Scale(speed * dt)).Add(b.velocity.Scale(dt))

	if b.Airborne() {
		b.velocity.Y -= Gravity * dt
	}
	if b.position.Y <= 0 {
		b.position.Y = 0
		if b.velocity.Y < 0 {
			b.velocity.Y = 0
		}
	}

	decay := max(0, 1-Friction*dt)
	b.velocity.X *= decay
	b.velocity.Z *= decay

	if bound > 0 {
		b.position.X = min(max(b.position.X, -bound), bound)
		b.position.Z = min(max(b.position.Z, -bound), bound)
	}
}
