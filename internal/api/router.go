package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"skirmish/internal/game"
	"skirmish/internal/game/geom"
	"skirmish/internal/game/world"
	"skirmish/internal/logger"
	"skirmish/internal/stats"
)

// EngineInterface defines the engine methods used by the API.
// This interface enables mocking for tests without spinning up the simulation loop.
type EngineInterface interface {
	Spawn(req game.SpawnRequest) (world.StateData, error)
	Remove(id int, reason world.RemovalReason) error
	Cast(id int, spell string, target geom.Vec3) error
	Submit(in game.Intent) bool
	Entity(id int) (world.StateData, error)
	Entities() []world.StateData
	GetSnapshot() game.Frame
	SpellNames() []string
	Teams() *game.TeamManager
	IntakeStats() game.IntakeStats
	EventLogStats() game.EventLogStats
}

// StatsInterface is the damage history the API reads. Nil disables the
// /api/stats routes.
type StatsInterface interface {
	Totals(ctx context.Context, id int) (stats.Totals, error)
	Leaderboard(ctx context.Context, limit int) ([]stats.Totals, error)
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
//	router := api.NewRouter(api.RouterConfig{
//	    Engine: engine,
//	    RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the simulation engine (required)
	Engine EngineInterface

	// Stats is the optional damage history store
	Stats StatsInterface

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is only used if RateLimiter is nil.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	CORSOrigins []string

	// ArenaSize scales /api/world.png
	ArenaSize float64

	// AdminToken guards spawn and remove. Empty disables the check.
	AdminToken string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	engine    EngineInterface
	stats     StatsInterface
	limiter   *IPRateLimiter
	arenaSize float64
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// NewRouter starts no listeners. The only goroutine it may start is the
// cleanup loop of a rate limiter it creates itself.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(requestLogger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS rejects floods early
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", AdminTokenHeader},
		AllowCredentials: true,
	}))

	h := &routerHandlers{
		engine:    cfg.Engine,
		stats:     cfg.Stats,
		limiter:   rateLimiter,
		arenaSize: cfg.ArenaSize,
	}
	admin := NewAdminAuth(cfg.AdminToken)

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleGetState)
		r.Get("/status", h.handleGetStatus)
		r.Get("/spells", h.handleGetSpells)
		r.Get("/teams", h.handleGetTeams)
		r.Get("/world.png", h.handleWorldImage)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", h.handleListEntities)
			r.With(admin.Middleware).Post("/", h.handleSpawn)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleGetEntity)
				r.With(admin.Middleware).Delete("/", h.handleRemove)
				r.Post("/cast", h.handleCast)
				r.Post("/walk", h.handleWalk)
				r.Post("/stop", h.handleStop)
			})
		})

		if cfg.Stats != nil {
			r.Get("/stats/damage", h.handleDamageLeaderboard)
			r.Get("/stats/damage/{id}", h.handleDamageTotals)
		}
	})

	return r
}

// requestLogger logs through logrus and records request metrics under the
// chi route pattern, which keeps the endpoint label bounded.
func requestLogger(next http.Handler) http.Handler {
	log := logger.Component("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		RecordRequest(r.Method, pattern, status, elapsed)

		entry := log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  status,
			"bytes":   ww.BytesWritten(),
			"elapsed": elapsed.String(),
			"ip":      GetClientIP(r),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	})
}
