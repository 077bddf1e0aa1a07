// Package game runs the simulation: a fixed-rate loop that drains player
// intents, advances the world one tick and publishes an immutable frame.
package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"skirmish/internal/game/action"
	"skirmish/internal/game/geom"
	"skirmish/internal/game/interaction"
	"skirmish/internal/game/world"
	"skirmish/internal/logger"
)

// ErrUnknownIntent is returned for intents with an unrecognised kind.
var ErrUnknownIntent = errors.New("unknown intent")

// Hooks observe the engine. They run on the simulation goroutine with the
// engine lock held and must not call back into the Engine.
type Hooks struct {
	OnTick  func(duration time.Duration, entities int)
	OnHit   func(h interaction.Hit)
	OnDeath func(victim, killer int)
	OnFrame func(f Frame)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	TickRate    int
	ArenaSize   float64
	Replica     bool // Presentation-only world driven by remote snapshots
	SpawnHealth float64
	BaseSpeed   float64
	SlowTick    time.Duration // Ticks slower than this are logged
	IntakeSize  int
	Limits      ResourceLimits
	Seed        int64 // Zero seeds from the clock

	// Spells is the spell book every spawned character receives.
	Spells []*world.Spell
	// Recorder receives every resolved harm in addition to the event log.
	Recorder interaction.Recorder
	Hooks    Hooks
}

// DefaultEngineConfig returns the configuration used when nothing is set.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickRate:    30,
		ArenaSize:   400,
		SpawnHealth: 1000,
		BaseSpeed:   20,
		SlowTick:    50 * time.Millisecond,
		IntakeSize:  DefaultIntakeSize,
		Limits:      DefaultLimits,
	}
}

// SpawnRequest asks for a new character.
type SpawnRequest struct {
	Name     string     `json:"name"`
	Team     int        `json:"team"`
	Player   bool       `json:"player"`
	Position *geom.Vec3 `json:"position,omitempty"` // Random inside the arena when nil
	Health   float64    `json:"health,omitempty"`
	Speed    float64    `json:"speed,omitempty"`
}

// Engine owns the world and serializes every access to it.
type Engine struct {
	mu    sync.RWMutex
	cfg   EngineConfig
	world *world.World

	intake   *Intake
	eventLog *EventLog
	frames   *FramePool
	teams    *TeamManager
	spells   []*world.Spell
	rng      *rand.Rand
	removed  []int // Since the last published frame

	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	done     chan struct{}

	log *logrus.Entry
}

// NewEngine creates an engine. Nothing runs until Start or Step.
func NewEngine(cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.TickRate <= 0 {
		cfg.TickRate = def.TickRate
	}
	if cfg.ArenaSize <= 0 {
		cfg.ArenaSize = def.ArenaSize
	}
	if cfg.SpawnHealth <= 0 {
		cfg.SpawnHealth = def.SpawnHealth
	}
	if cfg.BaseSpeed <= 0 {
		cfg.BaseSpeed = def.BaseSpeed
	}
	if cfg.Limits.MaxEntities <= 0 {
		cfg.Limits.MaxEntities = def.Limits.MaxEntities
	}
	if cfg.Limits.MaxFrameEntities <= 0 {
		cfg.Limits.MaxFrameEntities = def.Limits.MaxFrameEntities
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	e := &Engine{
		cfg:      cfg,
		intake:   NewIntake(cfg.IntakeSize),
		eventLog: NewEventLog(),
		frames:   NewFramePool(cfg.Limits),
		teams:    NewTeamManager(),
		spells:   cfg.Spells,
		rng:      rand.New(rand.NewSource(seed)),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		log:      logger.Component("engine"),
	}
	e.world = world.New(world.Config{
		Authoritative: !cfg.Replica,
		ArenaSize:     cfg.ArenaSize,
		MaxEntities:   cfg.Limits.MaxEntities,
		Recorder:      interaction.RecorderFunc(e.recordHit),
		Observer:      observer{e},
	})
	return e
}

// Start begins the game loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ticker = time.NewTicker(time.Second / time.Duration(e.cfg.TickRate))
	e.mu.Unlock()

	go func() {
		defer close(e.done)
		for {
			select {
			case <-e.ticker.C:
				e.tick()
			case <-e.stopChan:
				return
			}
		}
	}()

	e.log.WithField("tps", e.cfg.TickRate).Info("engine started")
}

// Stop stops the game loop and waits for the running tick to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopChan)
	e.mu.Unlock()

	<-e.done
	e.log.WithField("ticks", e.TickCount()).Info("engine stopped")
}

// Step advances the simulation by exactly one tick. It is how tests and
// tools drive an engine that is not started.
func (e *Engine) Step() {
	e.tick()
}

// tick is called at TickRate times per second
func (e *Engine) tick() {
	start := time.Now()
	dt := 1.0 / float64(e.cfg.TickRate)

	e.mu.Lock()
	e.intake.Drain(e.applyIntent)
	e.world.Tick(dt)

	tickNum := e.world.TickCount()
	entities := e.world.Len()
	e.eventLog.EmitSimple(EventTypeTick, tickNum, 0, TickPayload{
		Entities:    entities,
		DeltaTimeNs: int64(dt * 1e9),
	})

	frame := e.frames.AcquireWrite()
	e.frames.Fill(frame, tickNum, e.world.SnapshotAll())
	frame.Removed = append(frame.Removed, e.removed...)
	e.removed = e.removed[:0]
	e.frames.PublishWrite()

	elapsed := time.Since(start)
	if e.cfg.Hooks.OnTick != nil {
		e.cfg.Hooks.OnTick(elapsed, entities)
	}
	if e.cfg.Hooks.OnFrame != nil {
		e.cfg.Hooks.OnFrame(frame.Clone())
	}
	e.mu.Unlock()

	if e.cfg.SlowTick > 0 && elapsed > e.cfg.SlowTick {
		e.log.WithFields(logrus.Fields{
			"tick":     tickNum,
			"duration": elapsed,
			"entities": entities,
		}).Warn("slow tick")
	}
}

func (e *Engine) applyIntent(in Intent) error {
	var err error
	switch in.Kind {
	case IntentWalk:
		err = e.world.Walk(in.EntityID, in.Direction)
	case IntentStop:
		err = e.world.Walk(in.EntityID, geom.Zero)
	case IntentCast:
		err = e.cast(in.EntityID, in.Spell, in.Target)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownIntent, in.Kind)
	}
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"entity": in.EntityID,
			"intent": in.Kind,
		}).WithError(err).Debug("intent rejected")
	}
	return err
}

// Submit queues an intent for the next tick. It never blocks; false means
// the intake was full and the intent was dropped.
func (e *Engine) Submit(in Intent) bool {
	return e.intake.Enqueue(in)
}

// Spawn adds a character built from req and returns its state.
func (e *Engine) Spawn(req SpawnRequest) (world.StateData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	health := req.Health
	if health <= 0 {
		health = e.cfg.SpawnHealth
	}
	speed := req.Speed
	if speed <= 0 {
		speed = e.cfg.BaseSpeed
	}
	var pos geom.Vec3
	if req.Position != nil {
		pos = *req.Position
	} else {
		half := e.cfg.ArenaSize / 2 * 0.8
		pos = geom.V(e.rng.Float64()*2*half-half, 0, e.rng.Float64()*2*half-half)
	}

	ent, err := e.world.AddEntity(world.Spawn{
		Name:     req.Name,
		Kind:     world.KindCharacter,
		Team:     req.Team,
		Player:   req.Player,
		Position: pos,
		Facing:   geom.V(0, 0, 1),
		Health:   health,
		Speed:    speed,
		Spells:   e.spells,
	})
	if err != nil {
		return world.StateData{}, err
	}
	return e.world.Snapshot(ent.ID())
}

// Remove detaches entity id.
func (e *Engine) Remove(id int, reason world.RemovalReason) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.world.RemoveEntity(id, reason)
}

// Cast casts spell for entity id right away, reporting validation errors
// to the caller.
func (e *Engine) Cast(id int, spell string, target geom.Vec3) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cast(id, spell, target)
}

func (e *Engine) cast(id int, spell string, target geom.Vec3) error {
	if err := e.world.Cast(id, spell, target); err != nil {
		return err
	}
	e.eventLog.EmitSimple(EventTypeCast, e.world.TickCount(), id, CastPayload{
		Spell:   spell,
		TargetX: target.X,
		TargetZ: target.Z,
	})
	return nil
}

// Walk steers entity id right away.
func (e *Engine) Walk(id int, dir geom.Vec3) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.world.Walk(id, dir)
}

// Entity returns the current state of entity id.
func (e *Engine) Entity(id int) (world.StateData, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.world.Snapshot(id)
}

// Entities returns the current state of every entity.
func (e *Engine) Entities() []world.StateData {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.world.SnapshotAll()
}

// GetSnapshot returns a copy of the latest published frame. It never takes
// the engine lock.
func (e *Engine) GetSnapshot() Frame {
	return e.frames.AcquireRead()
}

// TickCount returns the number of completed ticks.
func (e *Engine) TickCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.world.TickCount()
}

// SpellNames lists the spell book handed to new characters.
func (e *Engine) SpellNames() []string {
	names := make([]string, len(e.spells))
	for i, s := range e.spells {
		names[i] = s.Name
	}
	return names
}

// Teams returns the team manager
func (e *Engine) Teams() *TeamManager {
	return e.teams
}

// IntakeStats reports intent intake metrics
func (e *Engine) IntakeStats() IntakeStats {
	return e.intake.Stats()
}

// StartEventLog initializes the event logging system
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog gracefully stops the event logging system
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// EventLogStats returns event log statistics for monitoring
func (e *Engine) EventLogStats() EventLogStats {
	return e.eventLog.Stats()
}

// GetLimits returns the current resource limits
func (e *Engine) GetLimits() ResourceLimits {
	return e.cfg.Limits
}

func (e *Engine) recordHit(h interaction.Hit) {
	e.eventLog.EmitSimple(EventTypeHarm, e.world.TickCount(), h.SourceID, HarmPayload{
		SourceID: h.SourceID,
		TargetID: h.TargetID,
		Raw:      h.Raw,
		Dealt:    h.Dealt,
		Killed:   h.Killed,
	})
	if e.cfg.Recorder != nil {
		e.cfg.Recorder.RecordHit(h)
	}
	if e.cfg.Hooks.OnHit != nil {
		e.cfg.Hooks.OnHit(h)
	}
}

// observer turns world lifecycle callbacks into events and team tallies.
type observer struct {
	e *Engine
}

func (o observer) EntityAdded(ent *world.Entity) {
	if ent.Kind() == world.KindCharacter {
		if err := o.e.teams.Join(ent.Team(), ent.ID()); err != nil {
			o.e.log.WithField("entity", ent.ID()).WithError(err).Warn("team join failed")
		}
	}
	pos := ent.Position()
	o.e.eventLog.EmitSimple(EventTypeSpawn, o.e.world.TickCount(), ent.ID(), SpawnPayload{
		Name:   ent.Name(),
		Kind:   ent.Kind().String(),
		Team:   ent.Team(),
		X:      pos.X,
		Z:      pos.Z,
		Health: ent.Influence().Health(),
	})
}

func (o observer) EntityRemoved(ent *world.Entity, reason world.RemovalReason) {
	o.e.teams.Leave(ent.Team(), ent.ID())
	o.e.removed = append(o.e.removed, ent.ID())
	o.e.eventLog.EmitSimple(EventTypeRemove, o.e.world.TickCount(), ent.ID(), RemovePayload{
		Reason: string(reason),
	})
}

func (o observer) ActionStarted(ent *world.Entity, a *action.Action) {
	o.e.eventLog.EmitSimple(EventTypeAction, o.e.world.TickCount(), ent.ID(), ActionPayload{
		Kind:   a.Kind.String(),
		Name:   a.Name,
		TypeID: a.TypeID,
	})
}

func (o observer) Died(ent *world.Entity, killerID int) {
	killerTeam := 0
	if killer, ok := o.e.world.Entity(killerID); ok {
		killerTeam = killer.Team()
	}
	o.e.teams.RecordDeath(killerTeam, ent.Team())
	o.e.eventLog.EmitSimple(EventTypeDeath, o.e.world.TickCount(), ent.ID(), DeathPayload{
		KillerID: killerID,
		Team:     ent.Team(),
	})
	o.e.log.WithFields(logrus.Fields{
		"entity": ent.ID(),
		"killer": killerID,
	}).Info("entity died")
	if o.e.cfg.Hooks.OnDeath != nil {
		o.e.cfg.Hooks.OnDeath(ent.ID(), killerID)
	}
}
