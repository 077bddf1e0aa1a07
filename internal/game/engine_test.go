package game

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"skirmish/internal/game/abilities"
	"skirmish/internal/game/geom"
	"skirmish/internal/game/interaction"
	"skirmish/internal/game/world"
	"skirmish/internal/logger"
)

func init() {
	logger.Silence()
}

func testSpells(t testing.TB) []*world.Spell {
	t.Helper()
	punch, err := abilities.NewSpell(abilities.Definition{
		Name:      "punch",
		TypeID:    1,
		Shape:     abilities.ShapeConeStrike,
		Range:     20,
		HalfAngle: 45,
		Damage:    500,
	})
	if err != nil {
		t.Fatalf("NewSpell failed: %v", err)
	}
	return []*world.Spell{punch}
}

func at(x, z float64) *geom.Vec3 {
	v := geom.V(x, 0, z)
	return &v
}

// TestNewEngine verifies engine creation with correct defaults
func TestNewEngine(t *testing.T) {
	tests := []struct {
		name     string
		tickRate int
		want     int
	}{
		{"standard 30 TPS", 30, 30},
		{"high 60 TPS", 60, 60},
		{"zero falls back", 0, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(EngineConfig{TickRate: tt.tickRate})
			if engine == nil {
				t.Fatal("NewEngine returned nil")
			}
			if engine.cfg.TickRate != tt.want {
				t.Errorf("Expected tick rate %d, got %d", tt.want, engine.cfg.TickRate)
			}
			if engine.GetLimits().MaxEntities != DefaultLimits.MaxEntities {
				t.Errorf("Expected default entity limit, got %d", engine.GetLimits().MaxEntities)
			}
		})
	}
}

// TestEngineStartStop verifies engine can start and stop without panics
func TestEngineStartStop(t *testing.T) {
	engine := NewEngine(EngineConfig{TickRate: 100})

	engine.Start()
	engine.Start() // Second start is a no-op
	time.Sleep(100 * time.Millisecond)
	engine.Stop()

	if engine.TickCount() == 0 {
		t.Error("Expected ticks while running")
	}

	// Should not panic on double stop
	engine.Stop()
}

// TestSpawnAndRemove tests the entity lifecycle through the engine
func TestSpawnAndRemove(t *testing.T) {
	engine := NewEngine(EngineConfig{Seed: 1})

	s, err := engine.Spawn(SpawnRequest{Name: "A", Team: 3, Position: at(5, 6)})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if s.Position != geom.V(5, 0, 6) {
		t.Errorf("Expected requested position, got %+v", s.Position)
	}
	if s.Health != engine.cfg.SpawnHealth {
		t.Errorf("Expected spawn health %f, got %f", engine.cfg.SpawnHealth, s.Health)
	}

	random, _ := engine.Spawn(SpawnRequest{Name: "B"})
	half := engine.cfg.ArenaSize / 2
	if random.Position.X < -half || random.Position.X > half || random.Position.Z < -half || random.Position.Z > half {
		t.Errorf("Expected random spawn inside arena, got %+v", random.Position)
	}

	team, ok := engine.Teams().GetTeam(3)
	if !ok || len(team.Members) != 1 || team.Members[0] != s.ID {
		t.Fatalf("Expected team 3 with member %d, got %+v", s.ID, team)
	}

	if err := engine.Remove(s.ID, world.RemovalDisconnected); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := engine.Entity(s.ID); !errors.Is(err, world.ErrUnknownEntity) {
		t.Errorf("Expected ErrUnknownEntity, got %v", err)
	}
	team, _ = engine.Teams().GetTeam(3)
	if len(team.Members) != 0 {
		t.Errorf("Expected empty roster, got %v", team.Members)
	}
	if len(engine.Entities()) != 1 {
		t.Errorf("Expected 1 entity left, got %d", len(engine.Entities()))
	}
}

// TestIntentsAppliedOnTick verifies intents wait for the next tick
func TestIntentsAppliedOnTick(t *testing.T) {
	engine := NewEngine(EngineConfig{})
	s, _ := engine.Spawn(SpawnRequest{Name: "walker", Position: at(0, 0)})

	if !engine.Submit(Intent{EntityID: s.ID, Kind: IntentWalk, Direction: geom.V(1, 0, 0)}) {
		t.Fatal("Submit dropped the intent")
	}
	if got, _ := engine.Entity(s.ID); got.Position.X != 0 {
		t.Fatalf("Expected no movement before tick, got %+v", got.Position)
	}

	engine.Step()
	engine.Step()
	got, _ := engine.Entity(s.ID)
	if got.Position.X <= 0 {
		t.Errorf("Expected entity to walk along +X, got %+v", got.Position)
	}

	engine.Submit(Intent{EntityID: s.ID, Kind: "teleport"})
	engine.Submit(Intent{EntityID: 999, Kind: IntentStop})
	engine.Step()

	stats := engine.IntakeStats()
	if stats.Processed != 3 {
		t.Errorf("Expected 3 processed intents, got %d", stats.Processed)
	}
	if stats.Rejected != 2 {
		t.Errorf("Expected 2 rejected intents, got %d", stats.Rejected)
	}
}

// TestCastKillTalliesTeams verifies a lethal cast reaches hooks, recorder
// and team tallies
func TestCastKillTalliesTeams(t *testing.T) {
	var hits, deaths atomic.Int32
	var recorded []interaction.Hit
	var killer int

	engine := NewEngine(EngineConfig{
		Spells:   testSpells(t),
		Recorder: interaction.RecorderFunc(func(h interaction.Hit) { recorded = append(recorded, h) }),
		Hooks: Hooks{
			OnHit: func(interaction.Hit) { hits.Add(1) },
			OnDeath: func(_, k int) {
				deaths.Add(1)
				killer = k
			},
		},
	})

	caster, _ := engine.Spawn(SpawnRequest{Name: "caster", Team: 1, Position: at(0, 0)})
	victim, _ := engine.Spawn(SpawnRequest{Name: "victim", Team: 2, Position: at(10, 0), Health: 100})

	if err := engine.Cast(caster.ID, "punch", geom.V(10, 0, 0)); err != nil {
		t.Fatalf("Cast failed: %v", err)
	}
	if err := engine.Cast(caster.ID, "punch", geom.V(10, 0, 0)); !errors.Is(err, world.ErrCannotCast) {
		t.Errorf("Expected ErrCannotCast while casting, got %v", err)
	}
	for i := 0; i < 3; i++ {
		engine.Step()
	}

	got, _ := engine.Entity(victim.ID)
	if !got.Dead {
		t.Fatalf("Expected victim dead, got %+v", got)
	}
	if hits.Load() != 1 || len(recorded) != 1 {
		t.Errorf("Expected one hit in hook and recorder, got %d / %d", hits.Load(), len(recorded))
	}
	if recorded[0].SourceID != caster.ID || !recorded[0].Killed {
		t.Errorf("Expected lethal hit from caster, got %+v", recorded[0])
	}
	if deaths.Load() != 1 || killer != caster.ID {
		t.Errorf("Expected one death credited to %d, got %d by %d", caster.ID, deaths.Load(), killer)
	}

	red, _ := engine.Teams().GetTeam(1)
	blue, _ := engine.Teams().GetTeam(2)
	if red.Kills != 1 || blue.Deaths != 1 {
		t.Errorf("Expected team kill/death tallies 1/1, got %d/%d", red.Kills, blue.Deaths)
	}
}

// TestFramePublished verifies each tick publishes a capped frame
func TestFramePublished(t *testing.T) {
	var frames atomic.Int32
	engine := NewEngine(EngineConfig{
		Limits: ResourceLimits{MaxEntities: 10, MaxFrameEntities: 2},
		Hooks: Hooks{
			OnFrame: func(Frame) { frames.Add(1) },
		},
	})
	for i := 0; i < 3; i++ {
		engine.Spawn(SpawnRequest{Team: 1})
	}

	engine.Step()
	f := engine.GetSnapshot()

	if f.Tick != 1 {
		t.Errorf("Expected frame tick 1, got %d", f.Tick)
	}
	if f.EntityCount != 3 || f.AliveCount != 3 {
		t.Errorf("Expected 3 entities and 3 alive, got %d/%d", f.EntityCount, f.AliveCount)
	}
	if len(f.Entities) != 2 {
		t.Errorf("Expected frame capped at 2 entities, got %d", len(f.Entities))
	}
	if frames.Load() != 1 {
		t.Errorf("Expected one OnFrame call, got %d", frames.Load())
	}

	engine.Remove(f.Entities[0].ID, world.RemovalDisconnected)
	engine.Step()
	next := engine.GetSnapshot()
	if next.Sequence <= f.Sequence {
		t.Errorf("Expected increasing sequence, got %d after %d", next.Sequence, f.Sequence)
	}
	if len(next.Removed) != 1 || next.Removed[0] != f.Entities[0].ID {
		t.Errorf("Expected removal of %d in frame, got %v", f.Entities[0].ID, next.Removed)
	}

	engine.Step()
	if last := engine.GetSnapshot(); len(last.Removed) != 0 {
		t.Errorf("Expected removals reported once, got %v", last.Removed)
	}
}

// TestEventLogPersists verifies events reach a compressed log on disk
func TestEventLogPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.ndjson.zst")

	engine := NewEngine(EngineConfig{Spells: testSpells(t)})
	if err := engine.StartEventLog(path); err != nil {
		t.Fatalf("StartEventLog failed: %v", err)
	}

	caster, _ := engine.Spawn(SpawnRequest{Team: 1, Position: at(0, 0)})
	engine.Spawn(SpawnRequest{Team: 2, Position: at(5, 0), Health: 50})
	engine.Cast(caster.ID, "punch", geom.V(5, 0, 0))
	for i := 0; i < 3; i++ {
		engine.Step()
	}
	engine.StopEventLog()

	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}

	seen := map[EventType]int{}
	for _, ev := range events {
		seen[ev.Type]++
		if _, err := ulid.ParseStrict(ev.ID); err != nil {
			t.Errorf("Expected ULID event id, got %q", ev.ID)
		}
	}
	for _, typ := range []EventType{EventTypeSpawn, EventTypeCast, EventTypeHarm, EventTypeDeath, EventTypeTick} {
		if seen[typ] == 0 {
			t.Errorf("Expected at least one %s event, got none", typ)
		}
	}

	stats := engine.EventLogStats()
	if stats.Running || stats.Written != uint64(len(events)) {
		t.Errorf("Expected stopped log with %d written, got %+v", len(events), stats)
	}
}

// TestIntakeDropsWhenFull verifies the intake never blocks
func TestIntakeDropsWhenFull(t *testing.T) {
	q := NewIntake(2)
	for i := 0; i < 3; i++ {
		q.Enqueue(Intent{Kind: IntentStop})
	}

	stats := q.Stats()
	if stats.Enqueued != 2 || stats.Dropped != 1 {
		t.Errorf("Expected 2 enqueued and 1 dropped, got %d/%d", stats.Enqueued, stats.Dropped)
	}

	n := q.Drain(func(Intent) error { return nil })
	if n != 2 || q.Stats().Pending != 0 {
		t.Errorf("Expected 2 drained and none pending, got %d/%d", n, q.Stats().Pending)
	}
}
