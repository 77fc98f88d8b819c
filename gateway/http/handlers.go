package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/semibank/smartfarm/component"
	"github.com/semibank/smartfarm/resample"
	"github.com/semibank/smartfarm/series"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	if status >= http.StatusInternalServerError {
		s.errorCount.Add(1)
	}
	s.respondJSON(w, status, map[string]string{"error": msg})
}

// parseWindow reads the optional ?window= query parameter. Zero means
// "use the configured default"; "all" disables the window entirely.
func parseWindow(r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("window")
	switch raw {
	case "":
		return 0, true
	case "all":
		return -1, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

func seriesParam(r *http.Request) string {
	return strings.TrimSuffix(chi.URLParam(r, "*"), "/")
}

// handleTree serves the topic tree, optionally restricted to ?path=.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondJSON(w, http.StatusOK, s.engine.Tree())
		return
	}

	node, ok := s.engine.QueryTopic(path)
	if !ok {
		s.respondError(w, http.StatusNotFound, "no topic at path "+path)
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) handleSeriesList(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.SeriesIDs())
}

func (s *Server) handleAllHistory(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid window")
		return
	}
	s.respondJSON(w, http.StatusOK, s.engine.AllHistory(window))
}

// handleSeriesHistory serves one series' windowed points. An unknown
// series yields an empty list, not an error: pollers hit this before the
// first sample lands.
func (s *Server) handleSeriesHistory(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid window")
		return
	}

	points := s.engine.History(seriesParam(r), window)
	if points == nil {
		points = []series.DataPoint{}
	}
	s.respondJSON(w, http.StatusOK, points)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid window")
		return
	}
	s.respondJSON(w, http.StatusOK, s.engine.Statistics(seriesParam(r), window))
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid window")
		return
	}
	s.respondJSON(w, http.StatusOK, s.engine.StatusDistribution(window))
}

// handleResample merges selected series into complete chart rows.
// ?method= picks the strategy, ?param= its window/bucket size, ?series=
// a comma list of ids (empty = all).
func (s *Server) handleResample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	method, err := resample.ParseMethod(q.Get("method"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "unknown resample method")
		return
	}

	param := 1
	if raw := q.Get("param"); raw != "" {
		param, err = strconv.Atoi(raw)
		if err != nil || param < 1 {
			s.respondError(w, http.StatusBadRequest, "param must be a positive integer")
			return
		}
	}

	window, ok := parseWindow(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid window")
		return
	}

	var ids []string
	if raw := q.Get("series"); raw != "" {
		ids = strings.Split(raw, ",")
	}

	rows, err := s.engine.Resample(method, ids, window, param)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rows)
}

func (s *Server) handleClearAll(w http.ResponseWriter, _ *http.Request) {
	s.engine.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearTree(w http.ResponseWriter, _ *http.Request) {
	s.engine.ClearTree()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearSeries(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearSeries(seriesParam(r))
	w.WriteHeader(http.StatusNoContent)
}

type commandRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// handleCommand relays an actuator command to the broker.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no broker publisher configured")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topic == "" {
		s.respondError(w, http.StatusBadRequest, "body must be {\"topic\": ..., \"payload\": ...}")
		return
	}

	if err := s.publisher.Publish(r.Context(), req.Topic, []byte(req.Payload)); err != nil {
		s.respondError(w, http.StatusBadGateway, "publish failed")
		s.logger.Warn("command publish failed", "topic", req.Topic, "error", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "published"})
}

type componentStatus struct {
	Meta   component.Metadata     `json:"meta"`
	Health component.HealthStatus `json:"health"`
	Flow   component.FlowMetrics  `json:"flow"`
}

func (s *Server) handleComponents(w http.ResponseWriter, _ *http.Request) {
	out := make([]componentStatus, 0, len(s.components))
	for _, c := range s.components {
		out = append(out, componentStatus{
			Meta:   c.Meta(),
			Health: c.Health(),
			Flow:   c.DataFlow(),
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	healthy := true
	detail := make(map[string]bool, len(s.components))
	for _, c := range s.components {
		h := c.Health()
		detail[c.Meta().Name] = h.Healthy
		if !h.Healthy {
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, map[string]any{
		"healthy":    healthy,
		"components": detail,
	})
}
