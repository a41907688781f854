package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/helmsman/internal/version"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

// queryInt parses a non-negative integer query parameter, falling back to
// def when missing or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"version":        version.Version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	}

	// Probe the journal when one is wired; a read failure marks the
	// process degraded but still alive.
	if s.history != nil {
		if _, err := s.history.TradeCount(); err != nil {
			s.log.Warn().Err(err).Msg("Journal health probe failed")
			body["status"] = "degraded"
			body["journal"] = "unreachable"
		} else {
			body["journal"] = "ok"
		}
	}

	s.respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	gate := s.runner.Gate()
	ksActive, ksReason := gate.KillSwitchActive()
	dailyTrades, dailyPL, lastReset := gate.DailyStats()

	s.respondJSON(w, http.StatusOK, map[string]any{
		"run_id": s.runner.RunID(),
		"mode":   s.runner.Mode(),
		"state":  s.runner.State(),
		"errors": s.runner.Errors(),
		"cycles": s.runner.Cycles(),
		"kill_switch": map[string]any{
			"active": ksActive,
			"reason": ksReason,
		},
		"daily": map[string]any{
			"trades":      dailyTrades,
			"realized_pl": dailyPL,
			"last_reset":  lastReset.Format(time.RFC3339),
		},
		"limits":         gate.Limits(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.runner.LatestSnapshot()
	if !ok {
		s.respondError(w, http.StatusNotFound, "no portfolio snapshot yet")
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.runner.Metrics())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	trades := s.runner.Trades(limit)

	s.respondJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"count":  len(trades),
	})
}

type killSwitchRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

func (s *Server) handleKillSwitchGet(w http.ResponseWriter, r *http.Request) {
	active, reason := s.runner.Gate().KillSwitchActive()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"active": active,
		"reason": reason,
	})
}

func (s *Server) handleKillSwitchPost(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	gate := s.runner.Gate()
	if req.Active {
		reason := req.Reason
		if reason == "" {
			reason = "manual activation via API"
		}
		gate.ActivateKillSwitch(reason)
	} else {
		gate.DeactivateKillSwitch()
	}

	active, reason := gate.KillSwitchActive()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"active": active,
		"reason": reason,
	})
}

// Pause and resume take effect at the top of the next loop cycle, so the
// reported state may lag the request by one interval.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.runner.Pause()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"requested": "pause",
		"state":     s.runner.State(),
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.runner.Resume()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"requested": "resume",
		"state":     s.runner.State(),
	})
}

func (s *Server) handleJournalTrades(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusServiceUnavailable, "trade journal not configured")
		return
	}

	var limit *int
	if n := queryInt(r, "limit", 0); n > 0 {
		limit = &n
	}

	trades, err := s.history.ListTrades(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list journal trades")
		s.respondError(w, http.StatusInternalServerError, "journal read failed")
		return
	}

	total, err := s.history.TradeCount()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to count journal trades")
		s.respondError(w, http.StatusInternalServerError, "journal read failed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"total":  total,
	})
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "results store not configured")
		return
	}

	runs, err := s.store.List()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list run bundles")
		s.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "results store not configured")
		return
	}

	runID := chi.URLParam(r, "runID")
	result, err := s.store.Load(runID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		s.log.Error().Err(err).Str("run_id", runID).Msg("Failed to load run bundle")
		s.respondError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := systemStats()

	s.respondJSON(w, http.StatusOK, map[string]any{
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

// systemStats samples host CPU and memory. Failures degrade to zero
// values rather than failing the endpoint.
func systemStats() (cpuPct, memPct float64) {
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		for _, p := range percents {
			cpuPct += p
		}
		cpuPct /= float64(len(percents))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}

	return cpuPct, memPct
}
