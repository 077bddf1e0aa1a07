// Package effect models timed status effects (buffs and crowd-control) and
// one-shot influences.
//
// Effects are a closed set of kinds. Code that needs kind-specific behavior
// switches on Kind; there is no interface hierarchy. Each effect is owned by
// exactly one influence aggregator and only reads its owner's stat block.
package effect

import (
	"fmt"

	"skirmish/internal/game/stat"
)

// Kind identifies the variant of an Effect.
type Kind uint8

const (
	KindGeneric Kind = iota
	KindIncapacitate
	KindFear
	KindPetrify
	KindSlow
	KindSpeed
	KindArmor
	KindCastWhileMoving
	KindDamagePerHealth
	KindProjectileImmunity
)

var kindNames = [...]string{
	KindGeneric:            "generic",
	KindIncapacitate:       "incapacitate",
	KindFear:               "fear",
	KindPetrify:            "petrify",
	KindSlow:               "slow",
	KindSpeed:              "speed",
	KindArmor:              "armor",
	KindCastWhileMoving:    "cast_while_moving",
	KindDamagePerHealth:    "damage_per_health",
	KindProjectileImmunity: "projectile_immunity",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind is the inverse of String.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return KindGeneric, fmt.Errorf("unknown effect kind %q", name)
}

// IsCrowdControl reports whether the kind restricts its carrier.
func (k Kind) IsCrowdControl() bool {
	switch k {
	case KindIncapacitate, KindFear, KindPetrify, KindSlow:
		return true
	}
	return false
}

// BlocksMovement reports whether the kind prevents movement.
func (k Kind) BlocksMovement() bool {
	return k == KindIncapacitate || k == KindPetrify
}

// BlocksCasting reports whether the kind prevents casting.
func (k Kind) BlocksCasting() bool {
	return k == KindIncapacitate || k == KindFear || k == KindPetrify
}

// DamageSensitive reports whether an attack breaks the effect.
func (k Kind) DamageSensitive() bool {
	return k == KindIncapacitate || k == KindFear
}

// Effect is one timed modifier. Fields that do not apply to Kind are zero.
type Effect struct {
	Kind     Kind
	TypeID   int    // Catalog id, used for icons on replicas
	Name     string // Display name
	Friendly bool   // Applied by an ally or self

	Duration float64 // Remaining seconds

	// Slow / Speed
	SlowFactor    float64
	SpeedFactor   float64
	SpeedConstant float64

	// Petrify
	AbsorbRatio float64
	AbsorbCap   float64
	Absorbed    float64

	// Armor
	ArmorAmount     float64
	ArmorProtection float64

	// Optional hooks. OnTick runs after the duration is decremented.
	OnApply   func(e *Effect, owner *stat.Block)
	OnTick    func(e *Effect, owner *stat.Block, dt float64)
	Continue  func(e *Effect) bool
	OnDestroy func(e *Effect, owner *stat.Block)

	owner     *stat.Block
	destroyed bool
}

// Attach binds the effect to its owner and runs OnApply.
func (e *Effect) Attach(owner *stat.Block) {
	e.owner = owner
	if e.OnApply != nil {
		e.OnApply(e, owner)
	}
}

// Owner returns the stat block the effect reads, or nil before Attach.
func (e *Effect) Owner() *stat.Block {
	return e.owner
}

// Update advances the effect by dt seconds.
func (e *Effect) Update(dt float64) {
	e.Duration -= dt
	if e.OnTick != nil && e.owner != nil {
		e.OnTick(e, e.owner, dt)
	}
}

// ShouldContinue reports whether the effect is still active.
func (e *Effect) ShouldContinue() bool {
	if e.destroyed || e.Duration <= 0 {
		return false
	}
	switch e.Kind {
	case KindPetrify:
		if e.Absorbed >= e.AbsorbCap {
			return false
		}
	case KindArmor:
		if e.ArmorAmount <= 0 {
			return false
		}
	}
	if e.Continue != nil {
		return e.Continue(e)
	}
	return true
}

// Destroy runs the cleanup hook. Only the first call has any effect.
func (e *Effect) Destroy() {
	if e.destroyed {
		return
	}
	e.destroyed = true
	if e.OnDestroy != nil {
		e.OnDestroy(e, e.owner)
	}
}

// Destroyed reports whether Destroy has run.
func (e *Effect) Destroyed() bool {
	return e.destroyed
}

// Absorb applies Petrify damage reduction and returns the damage that
// passes through. Absorption is truncated so the total never exceeds the cap.
func (e *Effect) Absorb(damage float64) float64 {
	if e.Kind != KindPetrify || damage <= 0 {
		return damage
	}
	absorbed := damage * e.AbsorbRatio
	if remaining := e.AbsorbCap - e.Absorbed; absorbed > remaining {
		absorbed = max(remaining, 0)
	}
	e.Absorbed += absorbed
	return damage - absorbed
}

// Mitigate applies Armor and returns the damage that passes through.
func (e *Effect) Mitigate(damage float64) float64 {
	if e.Kind != KindArmor || damage <= 0 {
		return damage
	}
	blocked := min(e.ArmorAmount, damage*e.ArmorProtection)
	e.ArmorAmount -= blocked
	return damage - blocked
}

// Summary is the replicated view of an effect, enough to draw an icon.
type Summary struct {
	TypeID    int     `json:"typeId" msgpack:"t"`
	Kind      string  `json:"kind" msgpack:"k"`
	Name      string  `json:"name,omitempty" msgpack:"n,omitempty"`
	Remaining float64 `json:"remaining" msgpack:"r"`
}

// Summarize returns the replicated view of e.
func (e *Effect) Summarize() Summary {
	return Summary{
		TypeID:    e.TypeID,
		Kind:      e.Kind.String(),
		Name:      e.Name,
		Remaining: e.Duration,
	}
}
