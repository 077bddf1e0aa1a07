package replication

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"skirmish/internal/game/world"
	"skirmish/internal/logger"
)

// TombstoneTicks is how long a removal is remembered. Unknown entities in
// states older than the oldest forgotten removal are ignored, so a late
// frame never brings a removed entity back.
const TombstoneTicks = 1024

// ReplicaStats counts what a Replica did with the frames it was given.
type ReplicaStats struct {
	Frames     uint64 `json:"frames"`
	Applied    uint64 `json:"applied"`    // States applied
	Stale      uint64 `json:"stale"`      // States ignored as not newer
	Commands   uint64 `json:"commands"`   // Commands applied
	Duplicates uint64 `json:"duplicates"` // Commands ignored as already seen
	Spawned    uint64 `json:"spawned"`
	Removed    uint64 `json:"removed"`
	Ghosts     uint64 `json:"ghosts"` // States ignored for already removed entities
}

// Replica mirrors an authoritative world. It owns a non-authoritative
// world that only moves when frames arrive or Tick is called. It is safe
// for concurrent use.
type Replica struct {
	mu    sync.Mutex
	world *world.World
	stats ReplicaStats
	log   *logrus.Entry

	// Frame tick at which each entity was removed
	tombstones map[int]uint64
	// Highest tick of a pruned tombstone
	floor uint64
}

// NewReplica creates a replica world from cfg. cfg.Authoritative is
// forced off.
func NewReplica(cfg world.Config) *Replica {
	cfg.Authoritative = false
	return &Replica{
		world:      world.New(cfg),
		log:        logger.Component("replica"),
		tombstones: make(map[int]uint64),
	}
}

// ApplyFrame decodes and applies one encoded frame.
func (r *Replica) ApplyFrame(data []byte) error {
	env, err := Decode(data)
	if err != nil {
		return err
	}
	return r.Apply(env)
}

// Apply applies env. States not newer than what the replica already holds
// and commands whose Seq was already seen are skipped, so a frame may be
// delivered any number of times, in any order. States at or before an
// entity's removal are ignored. The first failing item stops the frame.
func (r *Replica) Apply(env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Frames++
	switch env.Type {
	case FrameSnapshot:
		for _, s := range env.States {
			if r.removed(s) {
				r.stats.Ghosts++
				continue
			}
			if err := r.applyState(s); err != nil {
				return err
			}
		}
		for _, id := range env.Removed {
			if env.Tick > r.tombstones[id] {
				r.tombstones[id] = env.Tick
			}
			if err := r.world.RemoveEntity(id, world.RemovalReplaced); err == nil {
				r.stats.Removed++
			}
		}
		r.prune(env.Tick)
	case FrameCommands:
		for _, c := range env.Commands {
			applied, err := r.world.ApplyRemoteCommand(c.EntityID, c.Command)
			if err != nil {
				r.log.WithFields(logrus.Fields{
					"entity":  c.EntityID,
					"command": c.Command.Type,
				}).WithError(err).Warn("remote command rejected")
				return err
			}
			if applied {
				r.stats.Commands++
			} else {
				r.stats.Duplicates++
			}
		}
	default:
		return ErrUnknownFrame
	}
	return nil
}

// removed reports whether s describes an entity the replica already saw
// removed at or after s.Tick.
func (r *Replica) removed(s world.StateData) bool {
	if at, ok := r.tombstones[s.ID]; ok {
		if s.Tick <= at {
			return true
		}
		// Newer than the removal: the id is live again.
		delete(r.tombstones, s.ID)
		return false
	}
	if s.Tick > r.floor {
		return false
	}
	_, err := r.world.Snapshot(s.ID)
	return errors.Is(err, world.ErrUnknownEntity)
}

func (r *Replica) prune(now uint64) {
	if now <= TombstoneTicks {
		return
	}
	cutoff := now - TombstoneTicks
	for id, at := range r.tombstones {
		if at < cutoff {
			delete(r.tombstones, id)
			if at > r.floor {
				r.floor = at
			}
		}
	}
}

func (r *Replica) applyState(s world.StateData) error {
	applied, err := r.world.ApplySnapshot(s)
	if errors.Is(err, world.ErrUnknownEntity) {
		if _, err := r.world.AddEntityWithID(s.ID, world.Spawn{
			Name:     s.Name,
			Kind:     parseKind(s.Kind),
			Team:     s.Team,
			Position: s.Position,
			Facing:   s.Facing,
			Health:   s.HealthMax,
			Speed:    s.Speed,
		}); err != nil {
			return err
		}
		r.stats.Spawned++
		applied, err = r.world.ApplySnapshot(s)
	}
	if err != nil {
		return err
	}
	if applied {
		r.stats.Applied++
	} else {
		r.stats.Stale++
	}
	return nil
}

// Tick advances the replica world locally so effect timers run between
// frames.
func (r *Replica) Tick(dt float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.world.Tick(dt)
}

// Entity returns the replica's view of entity id.
func (r *Replica) Entity(id int) (world.StateData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.world.Snapshot(id)
}

// Entities returns the replica's view of every entity.
func (r *Replica) Entities() []world.StateData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.world.SnapshotAll()
}

// Stats returns the counters.
func (r *Replica) Stats() ReplicaStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func parseKind(name string) world.Kind {
	for _, k := range []world.Kind{world.KindCharacter, world.KindHazard, world.KindProjectile} {
		if k.String() == name {
			return k
		}
	}
	return world.KindCharacter
}
