package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mattsolo1/grove-batch/internal/orchestrator"
	"github.com/mattsolo1/grove-batch/internal/store"
	"github.com/mattsolo1/grove-batch/internal/supervisor"
)

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{Status: store.JobStatus(r.URL.Query().Get("status"))}
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	jobs, err := s.st.ListJobs(filter, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// jobDetail is GET /api/jobs/{id}'s response shape: the job record
// plus its workers, a page of recent units, and a status -> count
// breakdown.
type jobDetail struct {
	*store.Job
	Workers     []*store.Worker          `json:"workers"`
	RecentUnits []*store.WorkUnit        `json:"recent_units"`
	UnitStats   map[store.UnitStatus]int `json:"unit_stats"`
}

const recentUnitsLimit = 20

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.st.GetJob(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	workers, err := s.st.ListWorkersForJob(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	units, err := s.st.ListUnitsForJob(id, recentUnitsLimit, 0, false)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	stats, err := s.st.CountUnitsByStatus(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobDetail{Job: job, Workers: workers, RecentUnits: units, UnitStats: stats})
}

// unitsResponse separates the synthetic post-processing unit from the
// page of ordinary units.
type unitsResponse struct {
	Units              []*store.WorkUnit `json:"units"`
	PostProcessingUnit *store.WorkUnit   `json:"post_processing_unit,omitempty"`
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.st.GetJob(id); err != nil {
		writeStoreError(w, err)
		return
	}
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	units, err := s.st.ListUnitsForJob(id, limit, offset, true)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	all, err := s.st.ListUnitsForJob(id, 0, 0, false)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	var pp *store.WorkUnit
	for _, u := range all {
		if u.UnitType == store.PostProcessingUnitType {
			pp = u
			break
		}
	}
	writeJSON(w, http.StatusOK, unitsResponse{Units: units, PostProcessingUnit: pp})
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	unit, err := s.st.GetWorkUnit(vars["uid"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if unit.JobID != vars["id"] {
		WriteError(w, http.StatusNotFound, CodeUnitNotFound, "unit does not belong to job")
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

// liveUnit is one entry of GET /api/jobs/{id}/live: a snapshot of an
// active unit plus its most recently emitted event.
type liveUnit struct {
	UnitID      string           `json:"unit_id"`
	Status      store.UnitStatus `json:"status"`
	WorkerID    string           `json:"worker_id,omitempty"`
	StartedAt   string           `json:"started_at,omitempty"`
	LatestEvent *store.Event     `json:"latest_event,omitempty"`
}

func (s *Server) handleLiveUnits(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.st.GetJob(id); err != nil {
		writeStoreError(w, err)
		return
	}
	units, err := s.st.ListUnitsForJob(id, 0, 0, false)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	live := make([]liveUnit, 0)
	for _, u := range units {
		if u.Status != store.UnitStatusAssigned && u.Status != store.UnitStatusProcessing {
			continue
		}
		lu := liveUnit{UnitID: u.ID, Status: u.Status, WorkerID: u.WorkerID}
		if !u.StartedAt.IsZero() {
			lu.StartedAt = u.StartedAt.Format(time.RFC3339)
		}
		if n := len(u.Conversation); n > 0 {
			lu.LatestEvent = &u.Conversation[n-1]
		}
		live = append(live, lu)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"live_units": live})
}

func (s *Server) handleBypass(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pid, alreadyRunning, err := s.orch.BypassFailures(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"supervisor_pid": pid, "already_running": alreadyRunning})
}

func (s *Server) handleKillJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.KillJob(id, orchestrator.SignalTerminate); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminating"})
}

func (s *Server) handleRestartJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pid, alreadyRunning, err := s.orch.ResumeJob(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"supervisor_pid": pid, "already_running": alreadyRunning})
}

func (s *Server) handleKillUnit(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if err := supervisor.KillUnit(s.st, uid); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

func (s *Server) handleRestartUnit(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if err := supervisor.RestartUnit(s.st, uid); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}
