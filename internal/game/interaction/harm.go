// Package interaction resolves damage between entities: mitigation, health
// loss, crowd-control breaking, buff application and splash falloff.
//
// Nothing here filters by team. Callers pass predicates that already
// exclude allies.
package interaction

import (
	"skirmish/internal/game/effect"
	"skirmish/internal/game/influence"
)

// Party is an entity that can take part in an interaction.
type Party interface {
	ID() int
	Influence() *influence.Aggregator
}

// Hit is one resolved harm, as reported to a Recorder.
type Hit struct {
	SourceID int
	TargetID int
	Raw      float64 // Before mitigation
	Dealt    float64 // Health actually removed
	Killed   bool
	Attack   bool
}

// Recorder collects damage statistics.
type Recorder interface {
	RecordHit(h Hit)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Hit)

func (f RecorderFunc) RecordHit(h Hit) { f(h) }

// Harm applies raw damage and buffs from source to target. source may be
// nil for environmental damage. A dead target is left untouched and the
// zero Hit is returned.
//
// isAttack marks direct attacks: when they deal damage they break
// damage-sensitive crowd-control before the new buffs land.
func Harm(source, target Party, raw float64, buffs []effect.Builder, isAttack bool, rec Recorder) Hit {
	agg := target.Influence()
	if agg.IsDead() {
		return Hit{}
	}

	hit := Hit{TargetID: target.ID(), Raw: raw, Attack: isAttack}
	if source != nil {
		hit.SourceID = source.ID()
	}

	if raw > 0 {
		mitigated := agg.MitigateDamage(raw)
		before := agg.Health()
		agg.SetHealth(max(0, before-mitigated))
		hit.Dealt = before - agg.Health()
		hit.Killed = agg.IsDead()
	}

	if isAttack && raw > 0 {
		agg.RemoveDamageSensitive()
	}

	if !agg.IsDead() {
		for _, b := range buffs {
			if b == nil {
				continue
			}
			agg.Add(b.Build())
		}
	}

	if rec != nil {
		rec.RecordHit(hit)
	}
	return hit
}

// Heal restores amount health to a living target and returns the amount
// actually restored.
func Heal(target Party, amount float64) float64 {
	agg := target.Influence()
	if agg.IsDead() || amount <= 0 {
		return 0
	}
	before := agg.Health()
	agg.SetHealth(before + amount)
	return agg.Health() - before
}
