package game

import (
	"sync/atomic"
	"time"

	"skirmish/internal/game/geom"
)

// IntentKind selects what an Intent asks the simulation to do.
type IntentKind string

const (
	IntentWalk IntentKind = "walk"
	IntentStop IntentKind = "stop"
	IntentCast IntentKind = "cast"
)

// Intent is player input waiting for the next tick. Intents come from
// network goroutines and are applied by the simulation goroutine only.
type Intent struct {
	EntityID  int        `json:"entityId" msgpack:"id"`
	Kind      IntentKind `json:"kind" msgpack:"k"`
	Spell     string     `json:"spell,omitempty" msgpack:"s,omitempty"`
	Target    geom.Vec3  `json:"target" msgpack:"t"`
	Direction geom.Vec3  `json:"direction" msgpack:"d"`

	ReceivedAt time.Time `json:"-" msgpack:"-"`
}

// Intake is a bounded, non-blocking buffer of intents drained once per
// tick. A full intake drops new intents rather than stalling the caller.
type Intake struct {
	intents chan Intent

	enqueued    atomic.Uint64
	processed   atomic.Uint64
	dropped     atomic.Uint64
	rejected    atomic.Uint64
	avgWaitTime atomic.Int64 // nanoseconds, exponential moving average
}

// DefaultIntakeSize is used when no buffer size is configured
const DefaultIntakeSize = 256

// NewIntake creates an intake holding up to size intents
func NewIntake(size int) *Intake {
	if size <= 0 {
		size = DefaultIntakeSize
	}
	return &Intake{intents: make(chan Intent, size)}
}

// Enqueue adds an intent (non-blocking).
// Returns true if enqueued, false if the intake is full.
func (q *Intake) Enqueue(in Intent) bool {
	in.ReceivedAt = time.Now()

	select {
	case q.intents <- in:
		q.enqueued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Drain hands every buffered intent to apply without blocking. It returns
// the number drained. apply's error marks the intent rejected.
func (q *Intake) Drain(apply func(Intent) error) int {
	n := 0
	for {
		select {
		case in := <-q.intents:
			q.updateAvgWaitTime(time.Since(in.ReceivedAt))
			if err := apply(in); err != nil {
				q.rejected.Add(1)
			}
			q.processed.Add(1)
			n++
		default:
			return n
		}
	}
}

// updateAvgWaitTime updates exponential moving average
func (q *Intake) updateAvgWaitTime(waitTime time.Duration) {
	current := q.avgWaitTime.Load()
	// EMA with alpha = 0.1 (smooth over ~10 samples)
	q.avgWaitTime.Store((current*9 + waitTime.Nanoseconds()) / 10)
}

// Stats returns current intake statistics
func (q *Intake) Stats() IntakeStats {
	return IntakeStats{
		Enqueued:       q.enqueued.Load(),
		Processed:      q.processed.Load(),
		Dropped:        q.dropped.Load(),
		Rejected:       q.rejected.Load(),
		Pending:        uint64(len(q.intents)),
		BufferSize:     uint64(cap(q.intents)),
		AvgWaitTimeMs:  float64(q.avgWaitTime.Load()) / 1e6,
		BufferUsagePct: float64(len(q.intents)) / float64(cap(q.intents)) * 100,
	}
}

// IntakeStats holds intake metrics
type IntakeStats struct {
	Enqueued       uint64  `json:"enqueued"`
	Processed      uint64  `json:"processed"`
	Dropped        uint64  `json:"dropped"`
	Rejected       uint64  `json:"rejected"`
	Pending        uint64  `json:"pending"`
	BufferSize     uint64  `json:"buffer_size"`
	AvgWaitTimeMs  float64 `json:"avg_wait_time_ms"`
	BufferUsagePct float64 `json:"buffer_usage_pct"`
}
