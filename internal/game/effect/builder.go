package effect

import (
	"errors"
	"fmt"

	"skirmish/internal/game/stat"
)

// Builder produces a fresh Effect each time it is called. Spells hold
// builders, never effects, so one definition can be applied many times.
type Builder interface {
	Build() *Effect
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func() *Effect

func (f BuilderFunc) Build() *Effect { return f() }

// Petrify defaults.
const (
	PetrifyAbsorbRatio = 0.85
	PetrifyAbsorbCap   = 100.0
)

// ErrInvalidSpec is returned by Spec.Validate.
var ErrInvalidSpec = errors.New("invalid effect spec")

// Spec is a data description of an effect. It is what catalogs decode into
// and it implements Builder.
type Spec struct {
	Kind       Kind
	TypeID     int
	Name       string
	Friendly   bool
	Duration   float64
	Factor     float64 // Slow factor or speed factor
	Constant   float64 // Speed addition
	Amount     float64 // Armor amount
	Protection float64 // Armor protection ratio
}

// Validate checks the fields required by Kind.
func (s Spec) Validate() error {
	if s.Duration <= 0 {
		return fmt.Errorf("%w: %s duration must be positive", ErrInvalidSpec, s.Kind)
	}
	switch s.Kind {
	case KindSlow:
		if s.Factor <= 0 || s.Factor > 1 {
			return fmt.Errorf("%w: slow factor %v outside (0, 1]", ErrInvalidSpec, s.Factor)
		}
	case KindSpeed:
		if s.Factor <= 0 {
			return fmt.Errorf("%w: speed factor must be positive", ErrInvalidSpec)
		}
	case KindArmor:
		if s.Amount <= 0 || s.Protection <= 0 || s.Protection > 1 {
			return fmt.Errorf("%w: armor needs amount > 0 and protection in (0, 1]", ErrInvalidSpec)
		}
	}
	return nil
}

// Build implements Builder.
func (s Spec) Build() *Effect {
	var e *Effect
	switch s.Kind {
	case KindIncapacitate:
		e = Incapacitate(s.Duration)
	case KindFear:
		e = Fear(s.Duration)
	case KindPetrify:
		e = Petrify(s.Duration)
	case KindSlow:
		e = Slow(s.Duration, s.Factor)
	case KindSpeed:
		e = Speed(s.Duration, s.Factor, s.Constant)
	case KindArmor:
		e = Armor(s.Duration, s.Amount, s.Protection)
	case KindCastWhileMoving:
		e = CastWhileMoving(s.Duration)
	case KindDamagePerHealth:
		e = DamagePerHealth(s.Duration)
	case KindProjectileImmunity:
		e = ProjectileImmunity(s.Duration)
	default:
		e = &Effect{Kind: KindGeneric, Duration: s.Duration}
	}
	e.TypeID = s.TypeID
	e.Name = s.Name
	e.Friendly = s.Friendly
	return e
}

func Incapacitate(duration float64) *Effect {
	return &Effect{Kind: KindIncapacitate, Duration: duration}
}

func Fear(duration float64) *Effect {
	return &Effect{Kind: KindFear, Duration: duration}
}

// Petrify blocks movement and casting and absorbs most incoming damage
// until PetrifyAbsorbCap damage has been absorbed.
func Petrify(duration float64) *Effect {
	return &Effect{
		Kind:        KindPetrify,
		Duration:    duration,
		AbsorbRatio: PetrifyAbsorbRatio,
		AbsorbCap:   PetrifyAbsorbCap,
	}
}

// Slow multiplies movement speed by factor while active.
func Slow(duration, factor float64) *Effect {
	return &Effect{Kind: KindSlow, Duration: duration, SlowFactor: factor}
}

// Speed multiplies movement speed by factor and then adds constant.
func Speed(duration, factor, constant float64) *Effect {
	return &Effect{
		Kind:          KindSpeed,
		Duration:      duration,
		SpeedFactor:   factor,
		SpeedConstant: constant,
		Friendly:      true,
	}
}

// SpeedPerHealthMissing is a Speed buff of 1 + missing/8, plus a flat 5.
// Missing health is read once when the buff attaches.
func SpeedPerHealthMissing(duration float64) *Effect {
	e := Speed(duration, 1, 5)
	e.OnApply = func(e *Effect, owner *stat.Block) {
		if owner.HealthMax <= 0 {
			return
		}
		e.SpeedFactor = 1 + (1-owner.HealthCurrent/owner.HealthMax)/8
	}
	return e
}

// Armor blocks damage*protection of each hit until amount is used up.
func Armor(duration, amount, protection float64) *Effect {
	return &Effect{
		Kind:            KindArmor,
		Duration:        duration,
		ArmorAmount:     amount,
		ArmorProtection: protection,
		Friendly:        true,
	}
}

func CastWhileMoving(duration float64) *Effect {
	return &Effect{Kind: KindCastWhileMoving, Duration: duration, Friendly: true}
}

// DamagePerHealth scales outgoing damage by 1 + health/max/10 every tick,
// so at most 1.1 at full health.
func DamagePerHealth(duration float64) *Effect {
	return &Effect{
		Kind:     KindDamagePerHealth,
		Duration: duration,
		Friendly: true,
		OnTick: func(_ *Effect, owner *stat.Block, _ float64) {
			if owner.HealthMax <= 0 {
				return
			}
			owner.DamageFactor *= 1 + owner.HealthCurrent/owner.HealthMax/10
		},
	}
}

// ProjectileImmunity sets ImmuneToProjectiles every tick it is active.
func ProjectileImmunity(duration float64) *Effect {
	return &Effect{
		Kind:     KindProjectileImmunity,
		Duration: duration,
		Friendly: true,
		OnTick: func(_ *Effect, owner *stat.Block, _ float64) {
			owner.ImmuneToProjectiles = true
		},
	}
}
