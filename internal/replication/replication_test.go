package replication

import (
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"skirmish/internal/game/geom"
	"skirmish/internal/game/world"
	"skirmish/internal/logger"
)

func init() {
	logger.Silence()
}

func sourceWorld(t *testing.T) (*world.World, *world.Entity, *world.Entity) {
	t.Helper()
	w := world.New(world.Config{Authoritative: true})
	a, err := w.AddEntity(world.Spawn{Name: "a", Team: 1, Position: geom.V(1, 0, 2), Health: 1000, Speed: 10})
	if err != nil {
		t.Fatal(err)
	}
	b, err := w.AddEntity(world.Spawn{Name: "b", Team: 2, Position: geom.V(-4, 0, 0), Health: 500, Speed: 10})
	if err != nil {
		t.Fatal(err)
	}
	w.Harm(a, b, 120, nil, true)
	w.Tick(0.1)
	return w, a, b
}

// TestCodecRoundTrip verifies a snapshot frame survives encoding
func TestCodecRoundTrip(t *testing.T) {
	w, _, b := sourceWorld(t)

	data, err := Encode(Snapshot(7, w.TickCount(), w.SnapshotAll(), []int{42}))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if env.Type != FrameSnapshot || env.Sequence != 7 || env.Tick != 1 {
		t.Errorf("Expected snapshot seq 7 tick 1, got %s/%d/%d", env.Type, env.Sequence, env.Tick)
	}
	if len(env.States) != 2 || len(env.Removed) != 1 {
		t.Fatalf("Expected 2 states and 1 removal, got %d/%d", len(env.States), len(env.Removed))
	}
	got := env.States[1]
	if got.ID != b.ID() || got.Health != 380 || got.Position != geom.V(-4, 0, 0) {
		t.Errorf("Expected b at 380 health, got %+v", got)
	}
}

func TestDecodeRejectsUnknownFrame(t *testing.T) {
	if _, err := Encode(Envelope{Type: 9}); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("Expected ErrUnknownFrame from Encode, got %v", err)
	}

	raw, err := msgpack.Marshal(&Envelope{Type: 9})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(raw); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("Expected ErrUnknownFrame from Decode, got %v", err)
	}
	if _, err := Decode([]byte{0xc1}); err == nil {
		t.Error("Expected error for garbage input")
	}
}

// TestReplicaSnapshotIdempotent verifies re-delivered snapshots change nothing
func TestReplicaSnapshotIdempotent(t *testing.T) {
	w, _, b := sourceWorld(t)
	data, err := Encode(Snapshot(1, w.TickCount(), w.SnapshotAll(), nil))
	if err != nil {
		t.Fatal(err)
	}

	r := NewReplica(world.Config{})
	if err := r.ApplyFrame(data); err != nil {
		t.Fatalf("ApplyFrame failed: %v", err)
	}
	first, err := r.Entity(b.ID())
	if err != nil {
		t.Fatalf("Expected replica to spawn %d: %v", b.ID(), err)
	}

	if err := r.ApplyFrame(data); err != nil {
		t.Fatalf("ApplyFrame failed: %v", err)
	}
	second, _ := r.Entity(b.ID())

	if first.Health != 380 || second.Health != first.Health {
		t.Errorf("Expected health 380 both times, got %f then %f", first.Health, second.Health)
	}
	if first.Name != "b" || first.Team != 2 || first.HealthMax != 500 {
		t.Errorf("Expected replicated identity, got %+v", first)
	}

	stats := r.Stats()
	if stats.Spawned != 2 || stats.Applied != 2 || stats.Stale != 2 || stats.Frames != 2 {
		t.Errorf("Expected 2 spawned, 2 applied, 2 stale over 2 frames, got %+v", stats)
	}
}

// TestReplicaCommandsDeduplicated verifies commands apply once per Seq
func TestReplicaCommandsDeduplicated(t *testing.T) {
	w, a, _ := sourceWorld(t)
	r := NewReplica(world.Config{})
	if err := r.Apply(Snapshot(1, w.TickCount(), w.SnapshotAll(), nil)); err != nil {
		t.Fatal(err)
	}

	slow := Addressed{EntityID: a.ID(), Command: world.Command{
		Seq:  1,
		Type: world.CommandAddBuff,
		Buff: &world.BuffSpec{Kind: "slow", TypeID: 3, Duration: 2, Factor: 0.5},
	}}
	play := Addressed{EntityID: a.ID(), Command: world.Command{Seq: 2, Type: world.CommandPlayAction, ActionTypeID: 11}}

	data, err := Encode(Commands(2, w.TickCount(), slow, play))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := r.ApplyFrame(data); err != nil {
			t.Fatalf("ApplyFrame %d failed: %v", i, err)
		}
	}

	got, _ := r.Entity(a.ID())
	if len(got.Buffs) != 1 || got.Buffs[0].Kind != "slow" {
		t.Errorf("Expected exactly one slow buff, got %+v", got.Buffs)
	}
	if got.Action != 11 {
		t.Errorf("Expected action 11, got %d", got.Action)
	}
	if stats := r.Stats(); stats.Commands != 2 || stats.Duplicates != 2 {
		t.Errorf("Expected 2 applied and 2 duplicate commands, got %+v", stats)
	}

	bad := Commands(3, 1, Addressed{EntityID: a.ID(), Command: world.Command{Seq: 3, Type: "dance"}})
	if err := r.Apply(bad); !errors.Is(err, world.ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
}

// TestReplicaRemoval verifies removals listed in a frame detach entities
func TestReplicaRemoval(t *testing.T) {
	w, a, b := sourceWorld(t)
	r := NewReplica(world.Config{})
	r.Apply(Snapshot(1, w.TickCount(), w.SnapshotAll(), nil))

	if err := r.Apply(Snapshot(2, w.TickCount(), nil, []int{a.ID(), 99})); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := r.Entity(a.ID()); !errors.Is(err, world.ErrUnknownEntity) {
		t.Errorf("Expected %d removed, got %v", a.ID(), err)
	}
	if len(r.Entities()) != 1 || r.Entities()[0].ID != b.ID() {
		t.Errorf("Expected only %d left, got %+v", b.ID(), r.Entities())
	}
	if r.Stats().Removed != 1 {
		t.Errorf("Expected 1 removal, got %d", r.Stats().Removed)
	}
}

// TestReplicaLateFrameAfterRemoval verifies a re-delivered older frame does
// not bring back an entity a newer frame removed
func TestReplicaLateFrameAfterRemoval(t *testing.T) {
	w, a, b := sourceWorld(t)
	first := Snapshot(1, w.TickCount(), w.SnapshotAll(), nil)

	w.Tick(0.1)
	sa, _ := w.Snapshot(a.ID())
	second := Snapshot(2, w.TickCount(), []world.StateData{sa}, []int{b.ID()})

	r := NewReplica(world.Config{})
	for _, env := range []Envelope{first, second, first} {
		if err := r.Apply(env); err != nil {
			t.Fatalf("Apply seq %d failed: %v", env.Sequence, err)
		}
	}

	if _, err := r.Entity(b.ID()); !errors.Is(err, world.ErrUnknownEntity) {
		t.Errorf("Expected %d to stay removed, got %v", b.ID(), err)
	}
	if got := len(r.Entities()); got != 1 {
		t.Errorf("Expected 1 entity, got %d", got)
	}
	if st := r.Stats(); st.Ghosts != 1 || st.Spawned != 2 {
		t.Errorf("Expected 1 ghost and 2 spawns, got %+v", st)
	}

	// A state newer than the removal is a live entity again
	sb := world.StateData{ID: b.ID(), Tick: w.TickCount() + 5, Kind: "character", Team: 2, Health: 10, HealthMax: 500}
	if err := r.Apply(Snapshot(3, sb.Tick, []world.StateData{sb}, nil)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := r.Entity(b.ID()); err != nil {
		t.Errorf("Expected %d back after a newer state, got %v", b.ID(), err)
	}
}

// TestReplicaForgottenRemoval verifies pruned removals still block old states
func TestReplicaForgottenRemoval(t *testing.T) {
	r := NewReplica(world.Config{})
	ghost := world.StateData{ID: 5, Tick: 10, Kind: "character", Team: 1, Health: 100, HealthMax: 100}

	r.Apply(Snapshot(1, 10, []world.StateData{ghost}, nil))
	r.Apply(Snapshot(2, 12, nil, []int{5}))
	r.Apply(Snapshot(3, 12+TombstoneTicks+1, nil, nil))

	if len(r.tombstones) != 0 {
		t.Fatalf("Expected tombstones pruned, got %v", r.tombstones)
	}
	r.Apply(Snapshot(1, 10, []world.StateData{ghost}, nil))
	if _, err := r.Entity(5); !errors.Is(err, world.ErrUnknownEntity) {
		t.Errorf("Expected old state ignored after pruning, got %v", err)
	}

	fresh := world.StateData{ID: 6, Tick: 12 + TombstoneTicks + 2, Kind: "character", Team: 1, Health: 100, HealthMax: 100}
	r.Apply(Snapshot(4, fresh.Tick, []world.StateData{fresh}, nil))
	if _, err := r.Entity(6); err != nil {
		t.Errorf("Expected new entity accepted, got %v", err)
	}
}
