// Package action implements the per-entity action queue: a FIFO of timed
// behaviors of which at most one runs at a time.
package action

import "fmt"

// Kind identifies the variant of an Action.
type Kind uint8

const (
	KindGeneric Kind = iota
	KindDelay
	KindCasting
	KindCharge
	KindSplash
	KindCastSelfBuff
	KindCastOnGround
	KindToss
	KindKnockup
	KindLeap
	KindConeStrike
)

var kindNames = [...]string{
	KindGeneric:      "generic",
	KindDelay:        "delay",
	KindCasting:      "casting",
	KindCharge:       "charge",
	KindSplash:       "splash",
	KindCastSelfBuff: "cast_self_buff",
	KindCastOnGround: "cast_on_ground",
	KindToss:         "toss",
	KindKnockup:      "knockup",
	KindLeap:         "leap",
	KindConeStrike:   "cone_strike",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// NoTypeID marks actions that have nothing to show on replicas.
const NoTypeID = -1

// Action is one scheduled behavior. Behavior lives in the Step function;
// variant data lives in whatever Step closes over.
type Action struct {
	Kind   Kind
	TypeID int // Replicated animation id, NoTypeID for none
	Name   string

	// Step advances the action and reports whether it wants more ticks.
	Step func(dt float64) bool
	// OnEnd runs once when the action finishes or is cleared.
	OnEnd func()

	ended bool
}

// New returns an action of kind driven by step.
func New(kind Kind, name string, step func(dt float64) bool) *Action {
	return &Action{Kind: kind, TypeID: NoTypeID, Name: name, Step: step}
}

// Update runs one step. An ended action never runs again.
func (a *Action) Update(dt float64) bool {
	if a.ended || a.Step == nil {
		return false
	}
	return a.Step(dt)
}

// End finishes the action. Only the first call runs OnEnd.
func (a *Action) End() {
	if a.ended {
		return
	}
	a.ended = true
	if a.OnEnd != nil {
		a.OnEnd()
	}
}

// Ended reports whether End has run.
func (a *Action) Ended() bool {
	return a.ended
}

// Delay waits for seconds and then finishes.
func Delay(seconds float64) *Action {
	remaining := seconds
	return New(KindDelay, "delay", func(dt float64) bool {
		remaining -= dt
		return remaining > 0
	})
}

// Once runs fn on its first tick and finishes.
func Once(kind Kind, name string, fn func()) *Action {
	return New(kind, name, func(float64) bool {
		fn()
		return false
	})
}
