package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"skirmish/internal/api"
	"skirmish/internal/catalog"
	"skirmish/internal/config"
	"skirmish/internal/game"
	"skirmish/internal/game/interaction"
	"skirmish/internal/logger"
	"skirmish/internal/stats"
)

func main() {
	// .env is optional; the process environment always wins
	envErr := godotenv.Load(".env")

	appConfig, err := config.Load()
	logger.Init(appConfig.Logging.Level, appConfig.Logging.Format)
	log := logger.Component("main")
	if err != nil {
		log.WithError(err).Fatal("configuration")
	}
	if envErr != nil {
		log.Debug("no .env file found, using environment variables only")
	}

	simCfg := appConfig.Simulation
	serverCfg := appConfig.Server
	storageCfg := appConfig.Storage

	spells, err := catalog.Load(storageCfg.CatalogPath)
	if err != nil {
		log.WithError(err).Fatal("spell catalog")
	}
	log.WithFields(logrus.Fields{
		"spells":  len(spells),
		"catalog": storageCfg.CatalogPath,
	}).Info("spell catalog loaded")

	var (
		store    *stats.Store
		recorder interaction.Recorder
	)
	if storageCfg.StatsDBPath != "" {
		store, err = stats.Open(storageCfg.StatsDBPath)
		if err != nil {
			log.WithError(err).Fatal("stats store")
		}
		recorder = store
		log.WithField("path", storageCfg.StatsDBPath).Info("stats store opened")
	}

	// The hub exists before the engine so OnFrame can feed it; intents only
	// arrive after Start, by which time engine is set.
	var engine *game.Engine
	hub := api.NewWebSocketHub(serverCfg.AllowedOrigins, func(in game.Intent) bool {
		return engine.Submit(in)
	})

	engine = game.NewEngine(game.EngineConfig{
		TickRate:    simCfg.TickRate,
		ArenaSize:   simCfg.ArenaSize,
		Replica:     !simCfg.Authoritative,
		SpawnHealth: simCfg.SpawnHealth,
		BaseSpeed:   simCfg.BaseSpeed,
		SlowTick:    time.Duration(simCfg.SlowTickMs) * time.Millisecond,
		IntakeSize:  simCfg.CommandBuffer,
		Limits: game.ResourceLimits{
			MaxEntities:      simCfg.MaxEntities,
			MaxFrameEntities: simCfg.MaxEntities,
		},
		Spells:   spells,
		Recorder: recorder,
		Hooks: game.Hooks{
			OnTick:  api.RecordTick,
			OnHit:   api.RecordHarm,
			OnDeath: func(victim, killer int) { api.RecordDeath() },
			OnFrame: hub.PublishFrame,
		},
	})

	if storageCfg.EventLogPath != "" {
		if err := engine.StartEventLog(storageCfg.EventLogPath); err != nil {
			log.WithError(err).Warn("event log disabled")
		}
	}

	server := api.NewServer(api.ServerConfig{
		Router: api.RouterConfig{
			Engine:      engine,
			Stats:       statsReader(store),
			CORSOrigins: serverCfg.AllowedOrigins,
			ArenaSize:   simCfg.ArenaSize,
			AdminToken:  serverCfg.AdminToken,
			RateLimitConfig: &api.RateLimitConfig{
				RequestsPerSecond: serverCfg.RateLimit,
				Burst:             serverCfg.RateBurst,
				CleanupInterval:   api.DefaultRateLimitConfig.CleanupInterval,
			},
		},
		Hub: hub,
	})
	if serverCfg.AdminToken == "" {
		log.Warn("admin token not set, spawn and remove are open (set ADMIN_TOKEN)")
	}

	debugCfg := api.DefaultObservabilityConfig()
	debugCfg.Enabled = appConfig.Debug.Enabled
	debugCfg.ListenAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(appConfig.Debug.Port))
	debugCfg.BasicAuthUser = appConfig.Debug.Username
	debugCfg.BasicAuthPass = appConfig.Debug.Password
	debugServer := api.StartDebugServer(debugCfg)

	engine.Start()
	log.WithFields(logrus.Fields{
		"tick_rate":     simCfg.TickRate,
		"authoritative": simCfg.Authoritative,
	}).Info("engine started")

	statsCtx, stopStats := context.WithCancel(context.Background())
	go pollEngineStats(statsCtx, engine)

	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		if err := server.Start(addr); err != nil {
			log.WithError(err).Fatal("API server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.WithField("signal", sig.String()).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("API shutdown")
	}
	if debugServer != nil {
		debugServer.Shutdown(ctx)
	}
	stopStats()
	engine.Stop()
	engine.StopEventLog()
	if store != nil {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("stats store close")
		}
	}
	log.Info("shutdown complete")
}

// statsReader avoids handing the router a typed nil.
func statsReader(s *stats.Store) api.StatsInterface {
	if s == nil {
		return nil
	}
	return s
}

// pollEngineStats refreshes the intake and event log gauges off the
// simulation goroutine.
func pollEngineStats(ctx context.Context, engine *game.Engine) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in := engine.IntakeStats()
			ev := engine.EventLogStats()
			api.UpdateEngineStats(int(in.Pending), in.Dropped, ev.Total, ev.Dropped)
		}
	}
}
