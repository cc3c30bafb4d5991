package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/watchload/internal/report"
	"github.com/JonMunkholm/watchload/internal/tracker"
)

// maxOutcomeLimit caps ?limit on /api/outcomes.
const maxOutcomeLimit = 1000

type healthResponse struct {
	Status        string `json:"status"`
	Active        int    `json:"active"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.deps.Activity != nil {
		resp.Active = s.deps.Activity.Active()
	}
	writeJSON(w, http.StatusOK, resp)
}

type outcomesResponse struct {
	Count    int            `json:"count"`
	Outcomes []report.Entry `json:"outcomes"`
}

// handleOutcomes serves recent outcome lines. ?limit bounds the count and
// ?level keeps one severity (info, success, warn, error).
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxOutcomeLimit {
			respondError(w, r, fmt.Errorf("invalid query parameter limit=%q: want 1..%d", v, maxOutcomeLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}
	level := strings.ToLower(r.URL.Query().Get("level"))

	entries := s.deps.Outcomes.Recent(0)
	out := make([]report.Entry, 0, limit)
	for _, e := range entries {
		if len(out) == limit {
			break
		}
		if level != "" && e.Level.String() != level {
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, outcomesResponse{Count: len(out), Outcomes: out})
}

type processedResponse struct {
	Count int              `json:"count"`
	Files []tracker.Record `json:"files"`
}

func (s *Server) handleProcessed(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Records.List(r.Context())
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []tracker.Record{}
	}
	writeJSON(w, http.StatusOK, processedResponse{Count: len(records), Files: records})
}

func (s *Server) handleProcessedFile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Records.Get(r.Context(), chi.URLParam(r, "filename"))
	if errors.Is(err, tracker.ErrNotFound) {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
