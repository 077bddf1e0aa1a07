// Package stat holds the per-entity stat block that effects read and mutate.
package stat

// Block is the mutable stat state of one entity. Effects mutate it during
// the influence tick; everything else reads it.
type Block struct {
	HealthCurrent float64
	HealthMax     float64

	SpeedBase    float64 // Movement speed before effects, units per second
	SpeedCurrent float64 // Resolved speed for this tick

	DamageFactor  float64 // Outgoing damage multiplier, reset to 1 every tick
	ImpulseFactor float64 // Outgoing impulse multiplier for splash knockback

	ImmuneToProjectiles bool // Reset every tick, set by effects
}

// New returns a block at full health with neutral factors.
func New(health, speed float64) *Block {
	return &Block{
		HealthCurrent: health,
		HealthMax:     health,
		SpeedBase:     speed,
		SpeedCurrent:  speed,
		DamageFactor:  1,
		ImpulseFactor: 1,
	}
}

// HealthPercent returns current health as a percentage of max (0..100).
func (b *Block) HealthPercent() float64 {
	if b.HealthMax <= 0 {
		return 0
	}
	return b.HealthCurrent / b.HealthMax * 100
}

// ResetTransient restores the values recomputed every tick.
func (b *Block) ResetTransient() {
	b.DamageFactor = 1
	b.ImmuneToProjectiles = false
}
