package abilities

import (
	"errors"
	"math"
	"testing"

	"skirmish/internal/game/effect"
	"skirmish/internal/game/geom"
	"skirmish/internal/game/interaction"
	"skirmish/internal/game/spatial"
	"skirmish/internal/game/world"
	"skirmish/internal/logger"
)

func init() {
	logger.Silence()
}

func spawn(t *testing.T, w *world.World, team int, pos geom.Vec3, spells ...*world.Spell) *world.Entity {
	t.Helper()
	e, err := w.AddEntity(world.Spawn{Team: team, Position: pos, Facing: geom.V(1, 0, 0), Health: 1000, Speed: 10, Spells: spells})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	return e
}

func mustSpell(t *testing.T, d Definition) *world.Spell {
	t.Helper()
	s, err := NewSpell(d)
	if err != nil {
		t.Fatalf("NewSpell(%s) failed: %v", d.Name, err)
	}
	return s
}

func tickN(w *world.World, n int, dt float64) {
	for i := 0; i < n; i++ {
		w.Tick(dt)
	}
}

// TestNewSpellValidation verifies configuration errors fail fast
func TestNewSpellValidation(t *testing.T) {
	_, err := NewSpell(Definition{Name: "wide", Shape: ShapeConeStrike, HalfAngle: 120})
	if !errors.Is(err, spatial.ErrConeAngle) {
		t.Errorf("Expected ErrConeAngle, got %v", err)
	}

	_, err = NewSpell(Definition{Name: "odd", Shape: "juggle"})
	if !errors.Is(err, ErrUnknownShape) {
		t.Errorf("Expected ErrUnknownShape, got %v", err)
	}

	_, err = NewSpell(Definition{Name: "buffless", Shape: ShapeSelfBuff, Buffs: []effect.Builder{nil}})
	if err == nil {
		t.Error("Expected error for missing buff builder")
	}

	_, err = NewSpell(Definition{Name: "still", Shape: ShapeCharge})
	if err == nil {
		t.Error("Expected error for charge without speed")
	}
}

// TestConeStrikeHitsClosest verifies the closest enemy in the cone is hit
func TestConeStrikeHitsClosest(t *testing.T) {
	w := world.New(world.Config{Authoritative: true})
	fist := mustSpell(t, Definition{Name: "fist", Shape: ShapeConeStrike, Range: 25, HalfAngle: 30, Damage: 130})
	caster := spawn(t, w, 1, geom.Zero, fist)
	near := spawn(t, w, 2, geom.V(10, 0, 2))
	far := spawn(t, w, 2, geom.V(20, 0, 0))
	behind := spawn(t, w, 2, geom.V(-3, 0, 0))
	ally := spawn(t, w, 1, geom.V(5, 0, 0))

	if err := w.Cast(caster.ID(), "fist", geom.V(10, 0, 0)); err != nil {
		t.Fatalf("Cast failed: %v", err)
	}
	tickN(w, 3, 0.1)

	if near.Influence().Health() != 870 {
		t.Errorf("Expected closest enemy hit for 130, got %f", near.Influence().Health())
	}
	for _, e := range []*world.Entity{far, behind, ally} {
		if e.Influence().Health() != 1000 {
			t.Errorf("Expected entity %d untouched, got %f", e.ID(), e.Influence().Health())
		}
	}
}

// TestConeStrikeRejectsWideAngle verifies a bad cone is an error, not a panic
func TestConeStrikeRejectsWideAngle(t *testing.T) {
	w := world.New(world.Config{Authoritative: true})
	caster := spawn(t, w, 1, geom.Zero)

	a, err := ConeStrike(w, caster, 25, 120, 130, nil)
	if !errors.Is(err, spatial.ErrConeAngle) {
		t.Errorf("Expected ErrConeAngle, got %v", err)
	}
	if a != nil {
		t.Error("Expected no action for a rejected cone")
	}

	if _, err := ConeStrike(w, caster, 25, 90, 130, nil); err != nil {
		t.Errorf("Expected 90 degrees accepted, got %v", err)
	}
}

// TestGroundHazard verifies delayed damage and slow pulses
func TestGroundHazard(t *testing.T) {
	w := world.New(world.Config{Authoritative: true})
	circle := mustSpell(t, Definition{
		Name:  "ember",
		Shape: ShapeGroundHazard,
		Range: 50,
		Hazard: Hazard{
			Radius:   15,
			Delay:    0.2,
			Lifetime: 5,
			DPS:      100,
			Slow:     0.5,
		},
	})
	caster := spawn(t, w, 1, geom.Zero, circle)
	victim := spawn(t, w, 2, geom.V(30, 0, 0))

	if err := w.Cast(caster.ID(), "ember", geom.V(30, 0, 0)); err != nil {
		t.Fatalf("Cast failed: %v", err)
	}

	// Tick 1 casting action, tick 2 spawns the hazard, ticks 3-4 are the delay.
	tickN(w, 4, 0.1)
	if victim.Influence().Health() != 1000 {
		t.Fatalf("Expected no damage during delay, got %f", victim.Influence().Health())
	}

	tickN(w, 3, 0.1)
	if victim.Influence().Health() >= 1000 {
		t.Error("Expected hazard damage after delay")
	}
	if victim.Stats().SpeedCurrent != 5 {
		t.Errorf("Expected slowed speed 5, got %f", victim.Stats().SpeedCurrent)
	}

	hazards := 0
	for _, e := range w.Bodies() {
		if e.Kind() == world.KindHazard {
			hazards++
		}
	}
	if hazards != 1 {
		t.Errorf("Expected one hazard entity, got %d", hazards)
	}
}

// TestSelfBuffSurvivalInstinct verifies self buffs land on the caster
func TestSelfBuffSurvivalInstinct(t *testing.T) {
	w := world.New(world.Config{Authoritative: true})
	instinct := mustSpell(t, Definition{
		Name:  "instinct",
		Shape: ShapeSelfBuff,
		Buffs: []effect.Builder{
			effect.BuilderFunc(func() *effect.Effect { return effect.DamagePerHealth(5) }),
			effect.BuilderFunc(func() *effect.Effect { return effect.SpeedPerHealthMissing(5) }),
		},
	})
	caster := spawn(t, w, 1, geom.Zero, instinct)

	w.Cast(caster.ID(), "instinct", geom.Zero)
	tickN(w, 3, 0.1)

	if got := caster.Stats().DamageFactor; math.Abs(got-1.1) > 1e-9 {
		t.Errorf("Expected damage factor 1.1 at full health, got %f", got)
	}
	if caster.Stats().SpeedCurrent != 15 {
		t.Errorf("Expected speed 15, got %f", caster.Stats().SpeedCurrent)
	}
}

// TestTossLandsWithSplash verifies the thrown enemy lands, splashes and is
// harmed
func TestTossLandsWithSplash(t *testing.T) {
	w := world.New(world.Config{Authoritative: true})
	toss := mustSpell(t, Definition{
		Name:            "toss",
		Shape:           ShapeToss,
		Range:           80,
		Radius:          20,
		Damage:          350,
		SecondaryDamage: 200,
	})
	caster := spawn(t, w, 1, geom.Zero, toss)
	victim := spawn(t, w, 2, geom.V(5, 0, 0))
	bystander := spawn(t, w, 2, geom.V(40, 0, 10))

	if err := w.Cast(caster.ID(), "toss", geom.V(40, 0, 0)); err != nil {
		t.Fatalf("Cast failed: %v", err)
	}
	tickN(w, 20, 0.05)

	if victim.Position().Distance(geom.V(40, 0, 0)) > 1e-6 {
		t.Errorf("Expected victim at landing point, got %+v", victim.Position())
	}
	if victim.Influence().Health() != 800 {
		t.Errorf("Expected victim impact damage 200, got %f", victim.Influence().Health())
	}
	if bystander.Influence().Health() != 650 {
		t.Errorf("Expected bystander constant splash 350, got %f", bystander.Influence().Health())
	}
	if caster.Influence().Health() != 1000 {
		t.Error("Expected caster untouched")
	}
}

// TestEarthquakeKnocksUp verifies charge, splash incapacitate and knockup
func TestEarthquakeKnocksUp(t *testing.T) {
	w := world.New(world.Config{Authoritative: true})
	quake := mustSpell(t, Definition{
		Name:            "quake",
		Shape:           ShapeEarthquake,
		Range:           90,
		Speed:           150,
		Radius:          22,
		Damage:          180,
		Impulse:         30,
		Falloff:         interaction.FalloffConstant,
		SecondaryDamage: 30,
		Buffs:           []effect.Builder{effect.Spec{Kind: effect.KindIncapacitate, Duration: 1.2}},
	})
	caster := spawn(t, w, 1, geom.Zero, quake)
	target := spawn(t, w, 2, geom.V(30, 0, 0))

	if err := w.Cast(caster.ID(), "quake", geom.V(60, 0, 0)); err != nil {
		t.Fatalf("Cast failed: %v", err)
	}

	airborne := false
	for i := 0; i < 30; i++ {
		w.Tick(0.05)
		if target.Body().Airborne() {
			airborne = true
		}
	}

	// 30 charge hit + 180 splash.
	if target.Influence().Health() != 790 {
		t.Errorf("Expected health 790, got %f", target.Influence().Health())
	}
	if !airborne {
		t.Error("Expected target knocked up")
	}
	if caster.Influence().IsSpeedConstant() {
		t.Error("Expected charge to release pinned speed")
	}
}

// TestLeapIncapacitatesClosest verifies the leap landing hit
func TestLeapIncapacitatesClosest(t *testing.T) {
	w := world.New(world.Config{Authoritative: true})
	leap := mustSpell(t, Definition{
		Name:   "leap",
		Shape:  ShapeLeap,
		Range:  60,
		Radius: 17.5,
		Damage: 200,
		Buffs:  []effect.Builder{effect.Spec{Kind: effect.KindIncapacitate, Duration: 1}},
	})
	caster := spawn(t, w, 1, geom.Zero, leap)
	target := spawn(t, w, 2, geom.V(35, 0, 0))

	w.Cast(caster.ID(), "leap", geom.V(30, 0, 0))
	tickN(w, 15, 0.1)

	if math.Abs(caster.Position().X-30) > 1e-6 {
		t.Errorf("Expected caster landed at x=30, got %+v", caster.Position())
	}
	if target.Influence().Health() != 800 {
		t.Errorf("Expected 200 landing damage, got %f", target.Influence().Health())
	}
}
