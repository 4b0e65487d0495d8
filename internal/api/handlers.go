package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"callscan/internal/fetcher"
	"callscan/internal/fiscal"
	"callscan/internal/models"
	"callscan/internal/queue"

	"github.com/gorilla/mux"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "commit": BuildCommit})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	s.statusCache.mu.Lock()
	if now.Before(s.statusCache.expiresAt) && len(s.statusCache.payload) > 0 {
		cached := append([]byte(nil), s.statusCache.payload...)
		s.statusCache.mu.Unlock()
		w.Write(cached)
		return
	}
	s.statusCache.mu.Unlock()

	status, err := s.repo.PipelineStatus(r.Context(), now.UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.statusCache.mu.Lock()
	s.statusCache.payload = payload
	s.statusCache.expiresAt = time.Now().Add(10 * time.Second)
	s.statusCache.mu.Unlock()

	w.Write(payload)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	target := fiscal.Latest(now)

	status, err := s.repo.SchedulerStatus(r.Context(), target.Quarter, target.Year, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"scheduler_running":     true,
		"is_polling":            status.Due > 0,
		"poll_interval_seconds": 1,
		"target_quarter":        status.TargetQuarter,
		"target_year":           status.TargetYear,
		"schedule_rows":         status.ScheduleRows,
		"due":                   status.Due,
	}
	if status.NextCheckAt != nil {
		resp["next_poll_at"] = status.NextCheckAt.UTC().Format(time.RFC3339)
		resp["next_poll_in_seconds"] = int(time.Until(*status.NextCheckAt).Seconds())
	}
	if status.LastSyncAt != nil {
		resp["last_sync_at"] = status.LastSyncAt.UTC().Format(time.RFC3339)
	}
	json.NewEncoder(w).Encode(resp)
}

// handleSchedulerTrigger forces an immediate dispatch pass. Returns 202 when
// checks are already due and being drained, 200 otherwise.
func (s *Server) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	due, err := s.repo.CountDueScheduleRows(r.Context(), now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tick := queue.SchedulerTick{Reason: "admin trigger"}
	if err := s.broker.Publish(r.Context(), queue.QueueSchedulerTick, tick); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	code := http.StatusOK
	if due > 0 {
		code = http.StatusAccepted
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"triggered": true, "due": due})
}

type analyzeRequest struct {
	Force   bool   `json:"force"`
	Quarter string `json:"quarter,omitempty"`
	Year    int    `json:"year,omitempty"`
}

// handleAnalyze creates an analysis job for one equity's transcript and
// publishes the request. Defaults to the current target quarter.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	equityID, err := strconv.ParseInt(mux.Vars(r)["equity_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid equity_id")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target := fiscal.Latest(time.Now().UTC())
	quarter, year := req.Quarter, req.Year
	if quarter == "" || year == 0 {
		quarter, year = target.Quarter, target.Year
	}
	// A request for anything but the live quarter is a backfill and runs in
	// the reconciliation lane.
	reconciliation := quarter != target.Quarter || year != target.Year

	equity, err := s.repo.GetEquity(r.Context(), equityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if equity == nil {
		writeError(w, http.StatusNotFound, "equity not found")
		return
	}

	transcript, err := s.repo.GetTranscript(r.Context(), equityID, quarter, year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if transcript == nil || transcript.Status != "available" || transcript.SourceURL == nil {
		// No transcript yet; force the schedule row due so the fetcher
		// looks right away.
		if err := s.repo.TriggerScheduleRow(r.Context(), equityID, quarter, year, reconciliation); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		tick := queue.SchedulerTick{EquityID: equityID, Reason: "analyze request"}
		if err := s.broker.Publish(r.Context(), queue.QueueSchedulerTick, tick); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "transcript not yet available; check scheduled",
		})
		return
	}

	key := fetcher.AnalysisKey(transcript.ID, *transcript.SourceURL, req.Force)
	jobID, created, err := s.repo.CreateAnalysisJob(r.Context(), transcript.ID, key, req.Force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if created {
		msg := queue.AnalysisRequest{
			TranscriptID: transcript.ID,
			SourceURL:    *transcript.SourceURL,
			Force:        req.Force,
			JobID:        jobID,
		}
		if err := s.broker.Publish(r.Context(), queue.QueueAnalysisRequest, msg); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"job_id":  jobID,
		"created": created,
	})
}

type articleRequest struct {
	Quarter string `json:"quarter"`
	Year    int    `json:"year"`
}

// handleCreateArticle creates or re-opens a group research run with force.
func (s *Server) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	var req articleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quarter == "" || req.Year == 0 {
		writeError(w, http.StatusBadRequest, "quarter and year are required")
		return
	}

	group, err := s.repo.GetGroup(r.Context(), groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if group == nil {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}

	msg := queue.GroupResearchRequest{
		GroupID: groupID,
		Quarter: req.Quarter,
		Year:    req.Year,
		Force:   true,
	}
	if err := s.broker.Publish(r.Context(), queue.QueueGroupResearch, msg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"group_id": groupID,
		"quarter":  req.Quarter,
		"year":     req.Year,
		"forced":   true,
	})
}

// handleListArticles returns a group's research runs, newest first.
func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	runs, err := s.repo.ListResearchRuns(r.Context(), groupID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.GroupResearchRun{}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"articles": runs})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}
