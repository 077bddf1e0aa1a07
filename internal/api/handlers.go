package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"skirmish/internal/debugviz"
	"skirmish/internal/game"
	"skirmish/internal/game/geom"
	"skirmish/internal/game/world"
	"skirmish/internal/logger"
)

const maxBodyBytes = 64 << 10

type castRequest struct {
	Spell  string    `json:"spell"`
	Target geom.Vec3 `json:"target"`
}

type walkRequest struct {
	Direction geom.Vec3 `json:"direction"`
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	// The published frame needs no engine lock
	writeJSON(w, h.engine.GetSnapshot())
}

func (h *routerHandlers) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	f := h.engine.GetSnapshot()
	writeJSON(w, map[string]interface{}{
		"tick":        f.Tick,
		"sequence":    f.Sequence,
		"entityCount": f.EntityCount,
		"aliveCount":  f.AliveCount,
		"intake":      h.engine.IntakeStats(),
		"eventLog":    h.engine.EventLogStats(),
		"rateLimit":   h.limiter.Stats(),
	})
}

func (h *routerHandlers) handleGetSpells(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"spells": h.engine.SpellNames()})
}

func (h *routerHandlers) handleGetTeams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"teams": h.engine.Teams().GetAllTeams()})
}

func (h *routerHandlers) handleWorldImage(w http.ResponseWriter, r *http.Request) {
	opts := debugviz.Options{
		ArenaSize: h.arenaSize,
		Teams:     map[int]string{},
		Labels:    r.URL.Query().Get("labels") != "",
	}
	if s, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && s >= 64 && s <= 2048 {
		opts.Size = s
	}
	for _, t := range h.engine.Teams().GetAllTeams() {
		opts.Teams[t.ID] = t.Color
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := debugviz.WritePNG(w, h.engine.GetSnapshot().Entities, opts); err != nil {
		logger.Component("http").WithError(err).Warn("world image encode failed")
	}
}

func (h *routerHandlers) handleListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"entities": h.engine.Entities()})
}

func (h *routerHandlers) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req game.SpawnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, "name required", http.StatusBadRequest)
		return
	}
	state, err := h.engine.Spawn(req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(state)
}

func (h *routerHandlers) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	state, err := h.engine.Entity(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, state)
}

func (h *routerHandlers) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Remove(id, world.RemovalDisconnected); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCast validates synchronously so the caller learns about cooldowns
// and unknown spells.
func (h *routerHandlers) handleCast(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var req castRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.Cast(id, req.Spell, req.Target); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"success": true, "spell": req.Spell})
}

// handleWalk queues the steering change for the next tick.
func (h *routerHandlers) handleWalk(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var req walkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, game.Intent{EntityID: id, Kind: game.IntentWalk, Direction: req.Direction})
}

func (h *routerHandlers) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	h.submit(w, game.Intent{EntityID: id, Kind: game.IntentStop})
}

func (h *routerHandlers) submit(w http.ResponseWriter, in game.Intent) {
	if !h.engine.Submit(in) {
		w.Header().Set("Retry-After", "1")
		writeError(w, "intake full", http.StatusTooManyRequests)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]bool{"queued": true})
}

func (h *routerHandlers) handleDamageLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	top, err := h.stats.Leaderboard(r.Context(), limit)
	if err != nil {
		logger.Component("http").WithError(err).Warn("leaderboard query failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"leaderboard": top})
}

func (h *routerHandlers) handleDamageTotals(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	t, err := h.stats.Totals(r.Context(), id)
	if err != nil {
		logger.Component("http").WithError(err).Warn("totals query failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, t)
}

func entityID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, "invalid entity id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeEngineError maps simulation errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, world.ErrUnknownEntity):
		code = http.StatusNotFound
	case errors.Is(err, world.ErrUnknownSpell), errors.Is(err, world.ErrDuplicateID):
		code = http.StatusBadRequest
	case errors.Is(err, world.ErrOnCooldown), errors.Is(err, world.ErrCannotCast):
		code = http.StatusConflict
	case errors.Is(err, world.ErrWorldFull):
		code = http.StatusServiceUnavailable
	}
	writeError(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
