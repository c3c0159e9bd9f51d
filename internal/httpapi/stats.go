package httpapi

import (
	"net/http"

	"github.com/mattsolo1/grove-batch/internal/store"
)

// Stats is GET /api/stats's response: aggregate counts across every
// job the Store holds.
type Stats struct {
	TotalJobs      int                     `json:"total_jobs"`
	JobsByStatus   map[store.JobStatus]int `json:"jobs_by_status"`
	TotalUnits     int                     `json:"total_units"`
	CompletedUnits int                     `json:"completed_units"`
	FailedUnits    int                     `json:"failed_units"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.st.ListJobs(store.JobFilter{}, 0, 0)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	stats := Stats{JobsByStatus: map[store.JobStatus]int{}}
	for _, j := range jobs {
		stats.TotalJobs++
		stats.JobsByStatus[j.Status]++
		stats.TotalUnits += j.TotalUnits
		stats.CompletedUnits += j.CompletedUnits
		stats.FailedUnits += j.FailedUnits
	}
	writeJSON(w, http.StatusOK, stats)
}
