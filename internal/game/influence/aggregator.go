// Package influence implements the per-entity influence aggregator: the
// component that folds every active effect into the entity's stats once per
// tick, before the authoritative movement step.
//
// Tick order is fixed:
//
//  1. reset transient stats (damage factor, projectile immunity)
//  2. fold slows, speed buffs and slow pulses into movement speed
//  3. tick the remaining buffs
//  4. tick crowd-control
//  5. apply one-shot influences
//  6. advance movement (authoritative instance only)
//
// Effects whose duration runs out are destroyed and removed in the step that
// ticks them. Later steps see the stats mutated by earlier ones.
package influence

import (
	"context"

	"github.com/looplab/fsm"

	"skirmish/internal/game/effect"
	"skirmish/internal/game/stat"
)

// Host is the slice of the owning entity the aggregator drives.
type Host interface {
	StopMovement()
	AdvanceMovement(dt float64)
	InterruptCast()
	DisableCasting()
	ClearActions()
}

// Cues receives presentation feedback on non-authoritative instances.
type Cues interface {
	Suffer(amount float64)
	Death()
}

// Config customizes an Aggregator.
type Config struct {
	Authoritative bool
	Cues          Cues   // May be nil
	OnDeath       func() // Called once on the alive to dead transition
}

const (
	stateAlive = "alive"
	stateDead  = "dead"
	eventDie   = "die"
	eventRise  = "revive"
)

// Aggregator owns every effect attached to one entity.
type Aggregator struct {
	stats *stat.Block
	host  Host
	cfg   Config

	crowdControl []*effect.Effect
	slows        []*effect.Effect
	speeds       []*effect.Effect
	others       []*effect.Effect

	influences     []effect.Influence
	slowInfluences []effect.Influence

	speedConstant      bool
	canControlMovement bool
	detached           bool

	life *fsm.FSM
}

// New creates an aggregator for stats, driving host.
func New(stats *stat.Block, host Host, cfg Config) *Aggregator {
	a := &Aggregator{
		stats:              stats,
		host:               host,
		cfg:                cfg,
		canControlMovement: true,
	}
	a.life = fsm.NewFSM(
		stateAlive,
		fsm.Events{
			{Name: eventDie, Src: []string{stateAlive}, Dst: stateDead},
			{Name: eventRise, Src: []string{stateDead}, Dst: stateAlive},
		},
		fsm.Callbacks{
			"enter_" + stateDead: func(_ context.Context, _ *fsm.Event) {
				a.death()
			},
		},
	)
	return a
}

// Stats returns the stat block the aggregator mutates.
func (a *Aggregator) Stats() *stat.Block {
	return a.stats
}

// Tick runs one influence pass.
func (a *Aggregator) Tick(dt float64) {
	if a.detached {
		return
	}

	a.stats.ResetTransient()
	a.applySpeed(dt)
	a.others = tickEffects(a.others, dt)
	a.crowdControl = tickEffects(a.crowdControl, dt)
	a.applyInfluences(dt)

	if a.cfg.Authoritative {
		a.host.AdvanceMovement(dt)
	}
}

func (a *Aggregator) applySpeed(dt float64) {
	factor := 1.0
	addition := 0.0

	n := 0
	for _, s := range a.slows {
		s.Update(dt)
		if !s.ShouldContinue() {
			s.Destroy()
			continue
		}
		factor *= s.SlowFactor
		a.slows[n] = s
		n++
	}
	clear(a.slows[n:])
	a.slows = a.slows[:n]

	n = 0
	for _, s := range a.speeds {
		s.Update(dt)
		if !s.ShouldContinue() {
			s.Destroy()
			continue
		}
		factor *= s.SpeedFactor
		addition += s.SpeedConstant
		a.speeds[n] = s
		n++
	}
	clear(a.speeds[n:])
	a.speeds = a.speeds[:n]

	for _, inf := range a.slowInfluences {
		factor *= inf.Amount
	}
	a.slowInfluences = a.slowInfluences[:0]

	// A pinned speed belongs to whatever action pinned it.
	if !a.speedConstant {
		a.stats.SpeedCurrent = a.stats.SpeedBase*factor + addition
	}
}

// tickEffects updates effects in place and drops the finished ones.
func tickEffects(list []*effect.Effect, dt float64) []*effect.Effect {
	n := 0
	for _, e := range list {
		e.Update(dt)
		if !e.ShouldContinue() {
			e.Destroy()
			continue
		}
		list[n] = e
		n++
	}
	clear(list[n:])
	return list[:n]
}

func (a *Aggregator) applyInfluences(dt float64) {
	pending := a.influences
	a.influences = nil

	for _, inf := range pending {
		switch inf.Kind {
		case effect.InfluenceDamage:
			dealt := a.TakeDamage(inf.Amount * dt)
			if inf.Report != nil && dealt > 0 {
				inf.Report(dealt)
			}
		case effect.InfluenceHeal:
			if a.IsDead() {
				continue
			}
			before := a.stats.HealthCurrent
			a.SetHealth(before + inf.Amount*dt)
			if inf.Report != nil {
				inf.Report(a.stats.HealthCurrent - before)
			}
		}
	}
}

// Add routes e to AddCrowdControl or AddOtherBuff by kind.
func (a *Aggregator) Add(e *effect.Effect) {
	if e == nil {
		return
	}
	if e.Kind.IsCrowdControl() {
		a.AddCrowdControl(e)
	} else {
		a.AddOtherBuff(e)
	}
}

// AddCrowdControl attaches a crowd-control effect. Movement and cast
// cancellation happens here, not on the next tick.
func (a *Aggregator) AddCrowdControl(e *effect.Effect) {
	if e == nil || a.detached {
		return
	}
	e.Attach(a.stats)

	if e.Kind == effect.KindSlow {
		a.slows = append(a.slows, e)
	} else {
		a.crowdControl = append(a.crowdControl, e)
	}

	switch e.Kind {
	case effect.KindIncapacitate, effect.KindPetrify:
		a.host.StopMovement()
		a.host.InterruptCast()
		a.host.ClearActions()
	case effect.KindFear:
		a.host.InterruptCast()
		a.host.ClearActions()
	}
}

// AddOtherBuff attaches a non-crowd-control effect.
func (a *Aggregator) AddOtherBuff(e *effect.Effect) {
	if e == nil || a.detached {
		return
	}
	e.Attach(a.stats)

	if e.Kind == effect.KindSpeed {
		a.speeds = append(a.speeds, e)
	} else {
		a.others = append(a.others, e)
	}
}

// AddInfluence queues a one-shot influence for the next tick. Slow pulses
// are folded in step 2, everything else in step 5.
func (a *Aggregator) AddInfluence(inf effect.Influence) {
	if a.detached {
		return
	}
	if inf.Kind == effect.InfluenceSlow {
		a.slowInfluences = append(a.slowInfluences, inf)
	} else {
		a.influences = append(a.influences, inf)
	}
}

// MitigateDamage runs raw damage through the first Petrify and then the
// first Armor. Either effect ending as a result is removed immediately.
func (a *Aggregator) MitigateDamage(raw float64) float64 {
	damage := raw

	for i, cc := range a.crowdControl {
		if cc.Kind != effect.KindPetrify {
			continue
		}
		damage = cc.Absorb(damage)
		if !cc.ShouldContinue() {
			cc.Destroy()
			a.crowdControl = removeAt(a.crowdControl, i)
		}
		break
	}

	for i, b := range a.others {
		if b.Kind != effect.KindArmor {
			continue
		}
		damage = b.Mitigate(damage)
		if !b.ShouldContinue() {
			b.Destroy()
			a.others = removeAt(a.others, i)
		}
		break
	}

	return damage
}

func removeAt(list []*effect.Effect, i int) []*effect.Effect {
	copy(list[i:], list[i+1:])
	list[len(list)-1] = nil
	return list[:len(list)-1]
}

// TakeDamage mitigates raw and subtracts the result from health. It returns
// the health actually removed. Dead entities take no damage.
func (a *Aggregator) TakeDamage(raw float64) float64 {
	if a.IsDead() || raw <= 0 {
		return 0
	}
	mitigated := a.MitigateDamage(raw)
	before := a.stats.HealthCurrent
	a.SetHealth(max(0, before-mitigated))
	return before - a.stats.HealthCurrent
}

// SetHealth clamps and stores health. Reaching zero triggers the death
// transition once; losing health while alive plays the suffer cue on
// non-authoritative instances.
func (a *Aggregator) SetHealth(health float64) {
	health = min(max(health, 0), a.stats.HealthMax)
	before := a.stats.HealthCurrent
	a.stats.HealthCurrent = health

	if health == 0 && !a.IsDead() {
		// die is only valid from alive, so this cannot fire twice.
		_ = a.life.Event(context.Background(), eventDie)
		return
	}
	if health < before && health > 0 && !a.cfg.Authoritative && a.cfg.Cues != nil {
		a.cfg.Cues.Suffer(before - health)
	}
}

// Revive returns a dead entity to life at the given health.
func (a *Aggregator) Revive(health float64) {
	if !a.IsDead() {
		return
	}
	a.stats.HealthCurrent = min(max(health, 0), a.stats.HealthMax)
	_ = a.life.Event(context.Background(), eventRise)
}

func (a *Aggregator) death() {
	a.host.StopMovement()
	a.host.DisableCasting()
	if !a.cfg.Authoritative && a.cfg.Cues != nil {
		a.cfg.Cues.Death()
	}
	if a.cfg.OnDeath != nil {
		a.cfg.OnDeath()
	}
}

// Health returns current health.
func (a *Aggregator) Health() float64 {
	return a.stats.HealthCurrent
}

// IsDead reports whether the death transition has happened.
func (a *Aggregator) IsDead() bool {
	return a.life.Is(stateDead)
}

// CanMove is false while any movement-blocking crowd-control is active.
func (a *Aggregator) CanMove() bool {
	for _, cc := range a.crowdControl {
		if cc.Kind.BlocksMovement() {
			return false
		}
	}
	return true
}

// CanCast is false while any cast-blocking crowd-control is active.
func (a *Aggregator) CanCast() bool {
	for _, cc := range a.crowdControl {
		if cc.Kind.BlocksCasting() {
			return false
		}
	}
	return true
}

// RemoveDamageSensitive destroys crowd-control that attacks break.
func (a *Aggregator) RemoveDamageSensitive() {
	n := 0
	for _, cc := range a.crowdControl {
		if cc.Kind.DamageSensitive() {
			cc.Destroy()
			continue
		}
		a.crowdControl[n] = cc
		n++
	}
	clear(a.crowdControl[n:])
	a.crowdControl = a.crowdControl[:n]
}

// SetSpeedConstant pins movement speed, suspending the speed fold.
func (a *Aggregator) SetSpeedConstant(pinned bool) {
	a.speedConstant = pinned
}

func (a *Aggregator) IsSpeedConstant() bool {
	return a.speedConstant
}

func (a *Aggregator) SetCanControlMovement(can bool) {
	a.canControlMovement = can
}

// CanControlMovement reports whether player input may steer the entity.
func (a *Aggregator) CanControlMovement() bool {
	return a.canControlMovement
}

// ImmuneToProjectiles is recomputed every tick by effects.
func (a *Aggregator) ImmuneToProjectiles() bool {
	return a.stats.ImmuneToProjectiles
}

// IsAbleToCastWhileMoving reports whether a cast-while-moving buff is active.
func (a *Aggregator) IsAbleToCastWhileMoving() bool {
	return a.Has(effect.KindCastWhileMoving)
}

// Has reports whether an effect of kind is active.
func (a *Aggregator) Has(kind effect.Kind) bool {
	for _, list := range [][]*effect.Effect{a.crowdControl, a.slows, a.speeds, a.others} {
		for _, e := range list {
			if e.Kind == kind {
				return true
			}
		}
	}
	return false
}

// Active returns every active effect, crowd-control first.
func (a *Aggregator) Active() []*effect.Effect {
	out := make([]*effect.Effect, 0, len(a.crowdControl)+len(a.slows)+len(a.speeds)+len(a.others))
	out = append(out, a.crowdControl...)
	out = append(out, a.slows...)
	out = append(out, a.speeds...)
	out = append(out, a.others...)
	return out
}

// Summaries returns the replicated view of Active.
func (a *Aggregator) Summaries() []effect.Summary {
	active := a.Active()
	out := make([]effect.Summary, len(active))
	for i, e := range active {
		out[i] = e.Summarize()
	}
	return out
}

// PendingInfluences returns how many one-shot influences await the next tick.
func (a *Aggregator) PendingInfluences() int {
	return len(a.influences) + len(a.slowInfluences)
}

// Detach destroys every effect and drops pending influences. The aggregator
// ignores all further input.
func (a *Aggregator) Detach() {
	if a.detached {
		return
	}
	for _, e := range a.Active() {
		e.Destroy()
	}
	a.crowdControl = nil
	a.slows = nil
	a.speeds = nil
	a.others = nil
	a.influences = nil
	a.slowInfluences = nil
	a.detached = true
}
