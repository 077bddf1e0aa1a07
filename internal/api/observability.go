package api

import (
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"skirmish/internal/game/interaction"
	"skirmish/internal/logger"
)

// Metrics with bounded cardinality (no per-entity labels)
var (
	// Simulation metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Time spent in one simulation tick",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	entityCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_entity_count",
		Help: "Entities attached to the world",
	})

	harmTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_harm_total",
		Help: "Resolved harms",
	}, []string{"kind"}) // Bounded: "attack", "effect"

	damageDealt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_damage_dealt_total",
		Help: "Health removed by harms after mitigation",
	})

	deathTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_deaths_total",
		Help: "Entity deaths",
	})

	// Intake and event log, refreshed by UpdateEngineStats
	intentsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_intents_pending",
		Help: "Intents waiting for the next tick",
	})

	intentsDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_intents_dropped",
		Help: "Intents dropped because the intake was full",
	})

	eventLogTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_total",
		Help: "Events accepted by the event log",
	})

	eventLogDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_dropped",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit", "auth"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket frames broadcast",
	})
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // Loopback only unless ALLOW_DEBUG_EXTERNAL=true
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// DebugHandler serves pprof, /metrics and /health, behind basic auth when
// a user is configured.
func DebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser == "" {
		return mux
	}
	return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
}

// StartDebugServer starts the internal observability server in the
// background. It returns nil when the server is disabled.
func StartDebugServer(cfg ObservabilityConfig) *http.Server {
	log := logger.Component("debug")
	if !cfg.Enabled {
		log.Info("debug server disabled")
		return nil
	}

	cfg.ListenAddr = loopbackOnly(cfg.ListenAddr)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           DebugHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":    cfg.ListenAddr,
			"pprof":   "/debug/pprof/",
			"metrics": "/metrics",
		}).Info("debug server starting")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("debug server error")
		}
	}()
	return srv
}

// loopbackOnly rewrites addr to 127.0.0.1 unless its host is already a
// loopback address or external binding is explicitly allowed.
func loopbackOnly(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1:6060"
	}
	if host == "localhost" {
		return addr
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return addr
	}
	if os.Getenv("ALLOW_DEBUG_EXTERNAL") == "true" {
		return addr
	}
	logger.Component("debug").WithField("addr", addr).Warn("debug server forced to localhost")
	return net.JoinHostPort("127.0.0.1", port)
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureEqual(u, user) || !secureEqual(p, pass) {
			RecordConnectionRejected("auth")
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordTick records tick timing and the entity gauge
func RecordTick(duration time.Duration, entities int) {
	tickDuration.Observe(duration.Seconds())
	entityCount.Set(float64(entities))
}

// RecordHarm counts a resolved harm
func RecordHarm(h interaction.Hit) {
	kind := "effect"
	if h.Attack {
		kind = "attack"
	}
	harmTotal.WithLabelValues(kind).Inc()
	damageDealt.Add(h.Dealt)
}

// RecordDeath counts an entity death
func RecordDeath() {
	deathTotal.Inc()
}

// UpdateEngineStats refreshes the intake and event log gauges. Call it
// periodically from outside the simulation goroutine.
func UpdateEngineStats(pending int, dropped, eventsTotal, eventsDropped uint64) {
	intentsPending.Set(float64(pending))
	intentsDropped.Set(float64(dropped))
	eventLogTotal.Set(float64(eventsTotal))
	eventLogDropped.Set(float64(eventsDropped))
}

// RecordConnectionRejected increments the rejection counter
// reason must be one of: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit", "auth"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
