package game

import (
	"sync"
	"time"

	"skirmish/internal/game/world"
)

// ResourceLimits defines hard caps that bound memory under load
type ResourceLimits struct {
	MaxEntities      int // Hard cap on simulated entities (logic)
	MaxFrameEntities int // Hard cap on entities copied into a frame
}

// DefaultLimits provides production-safe default limits
var DefaultLimits = ResourceLimits{
	MaxEntities:      4096,
	MaxFrameEntities: 1024,
}

// Frame is an immutable copy of the world after one tick. Entities are
// value types, so readers never alias simulation state.
type Frame struct {
	Sequence  uint64    `json:"sequence" msgpack:"seq"` // Monotonic sequence for ordering
	Timestamp time.Time `json:"timestamp" msgpack:"ts"` // When the frame was produced
	Tick      uint64    `json:"tick" msgpack:"tk"`      // Simulation tick this represents

	Entities []world.StateData `json:"entities" msgpack:"e"`
	Removed  []int             `json:"removed,omitempty" msgpack:"r,omitempty"` // Detached since the previous frame

	EntityCount int `json:"entityCount" msgpack:"n"`
	AliveCount  int `json:"aliveCount" msgpack:"al"`
}

// Clone returns a deep copy safe to keep past the next tick.
func (f *Frame) Clone() Frame {
	out := *f
	out.Entities = make([]world.StateData, len(f.Entities))
	for i, s := range f.Entities {
		s.Buffs = append(s.Buffs[:0:0], s.Buffs...)
		out.Entities[i] = s
	}
	out.Removed = append([]int(nil), f.Removed...)
	return out
}

// FramePool pre-allocates frames to avoid GC pressure. It is a triple
// buffer: the producer fills one slot while readers hold the last
// published one.
type FramePool struct {
	mu       sync.RWMutex
	frames   [3]Frame
	limits   ResourceLimits
	writeIdx uint32
	readIdx  uint32
	sequence uint64
}

// NewFramePool creates a pool with pre-allocated slices
func NewFramePool(limits ResourceLimits) *FramePool {
	pool := &FramePool{limits: limits}
	for i := range pool.frames {
		pool.frames[i].Entities = make([]world.StateData, 0, limits.MaxFrameEntities)
	}
	return pool
}

// AcquireWrite gets the next write slot (producer only, called from the
// tick). The returned frame has reset slices with preserved capacity.
func (p *FramePool) AcquireWrite() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writeIdx = (p.readIdx + 1) % 3
	f := &p.frames[p.writeIdx]
	f.Entities = f.Entities[:0]
	f.Removed = f.Removed[:0]
	f.EntityCount = 0
	f.AliveCount = 0

	p.sequence++
	f.Sequence = p.sequence
	f.Timestamp = time.Now()
	return f
}

// Fill copies states into f up to the frame limit.
func (p *FramePool) Fill(f *Frame, tick uint64, states []world.StateData) {
	f.Tick = tick
	for _, s := range states {
		if !s.Dead {
			f.AliveCount++
		}
		if len(f.Entities) < p.limits.MaxFrameEntities {
			f.Entities = append(f.Entities, s)
		}
	}
	f.EntityCount = len(states)
}

// PublishWrite makes the frame last acquired for writing the one readers see
func (p *FramePool) PublishWrite() {
	p.mu.Lock()
	p.readIdx = p.writeIdx
	p.mu.Unlock()
}

// AcquireRead returns a copy of the latest published frame
func (p *FramePool) AcquireRead() Frame {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frames[p.readIdx].Clone()
}

// GetLimits returns the resource limits
func (p *FramePool) GetLimits() ResourceLimits {
	return p.limits
}
