package effect

// InfluenceKind identifies a one-shot influence.
type InfluenceKind uint8

const (
	// InfluenceDamage deals Amount damage per second, scaled by the tick dt.
	InfluenceDamage InfluenceKind = iota
	// InfluenceSlow multiplies movement speed by Amount for one tick.
	InfluenceSlow
	// InfluenceHeal restores Amount health per second, scaled by dt.
	InfluenceHeal
)

// Influence is applied exactly once by the aggregator and then discarded.
// Area hazards queue one per tick for every entity they touch.
type Influence struct {
	Kind     InfluenceKind
	Amount   float64
	SourceID int

	// Report, when set, receives the health actually removed or restored.
	Report func(amount float64)
}

// DamageOverTime returns a damage influence of dps per second.
func DamageOverTime(sourceID int, dps float64) Influence {
	return Influence{Kind: InfluenceDamage, Amount: dps, SourceID: sourceID}
}

// SlowPulse returns a one-tick slow.
func SlowPulse(sourceID int, factor float64) Influence {
	return Influence{Kind: InfluenceSlow, Amount: factor, SourceID: sourceID}
}
