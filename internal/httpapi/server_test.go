package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mattsolo1/grove-batch/internal/agent"
	"github.com/mattsolo1/grove-batch/internal/orchestrator"
	"github.com/mattsolo1/grove-batch/internal/store"
)

type fakeRunner struct{}

func (fakeRunner) Probe(ctx context.Context) error { return nil }
func (fakeRunner) Run(ctx context.Context, opts agent.RunOptions) *agent.Result {
	return &agent.Result{Success: true}
}

type fakeSpawner struct {
	nextPID int
	spawned []string
}

func (f *fakeSpawner) Spawn(jobID string) (int, error) {
	f.spawned = append(f.spawned, jobID)
	f.nextPID++
	return f.nextPID, nil
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestServer(t *testing.T) (*Server, *store.Store, *fakeSpawner) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "httpapi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	spawner := &fakeSpawner{}
	orch := orchestrator.New(st, fakeRunner{}, spawner, discardLogger())
	s := New(st, orch, WithLogger(discardLogger()))
	return s, st, spawner
}

func mustNow() time.Time { return time.Now().UTC() }

func decodeJSON(t *testing.T, body io.Reader, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(body).Decode(v))
}

func TestHealthzReturnsOK(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsServesPrometheusExposition(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListJobsReturnsNewestFirst(t *testing.T) {
	s, st, _ := newTestServer(t)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1", Status: store.JobStatusCreated}))
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-2", Status: store.JobStatusRunning}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []*store.Job `json:"jobs"`
	}
	decodeJSON(t, rec.Body, &body)
	require.Len(t, body.Jobs, 2)
	require.Equal(t, "job-2", body.Jobs[0].ID)
}

func TestListJobsFiltersByStatus(t *testing.T) {
	s, st, _ := newTestServer(t)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1", Status: store.JobStatusCreated}))
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-2", Status: store.JobStatusRunning}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs?status=running", nil)
	s.Handler().ServeHTTP(rec, req)

	var body struct {
		Jobs []*store.Job `json:"jobs"`
	}
	decodeJSON(t, rec.Body, &body)
	require.Len(t, body.Jobs, 1)
	require.Equal(t, "job-2", body.Jobs[0].ID)
}

func TestGetJobNotFoundReturnsEnvelope(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorEnvelope
	decodeJSON(t, rec.Body, &body)
	require.Equal(t, CodeJobNotFound, body.Error.Code)
}

func TestGetJobIncludesWorkersAndUnitStats(t *testing.T) {
	s, st, _ := newTestServer(t)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1", TotalUnits: 1}))
	require.NoError(t, st.CreateWorker(&store.Worker{ID: "w-1", JobID: "job-1"}))
	require.NoError(t, st.CreateWorkUnit(&store.WorkUnit{ID: "u-1", JobID: "job-1"}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body jobDetail
	decodeJSON(t, rec.Body, &body)
	require.Equal(t, "job-1", body.ID)
	require.Len(t, body.Workers, 1)
	require.Len(t, body.RecentUnits, 1)
	require.Equal(t, 1, body.UnitStats[store.UnitStatusPending])
}

func TestListUnitsSeparatesPostProcessingUnit(t *testing.T) {
	s, st, _ := newTestServer(t)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1", TotalUnits: 1}))
	require.NoError(t, st.CreateWorkUnit(&store.WorkUnit{ID: "u-1", JobID: "job-1"}))
	require.NoError(t, st.CreateWorkUnit(&store.WorkUnit{ID: "u-pp", JobID: "job-1", UnitType: store.PostProcessingUnitType}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/units", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body unitsResponse
	decodeJSON(t, rec.Body, &body)
	require.Len(t, body.Units, 1)
	require.Equal(t, "u-1", body.Units[0].ID)
	require.NotNil(t, body.PostProcessingUnit)
	require.Equal(t, "u-pp", body.PostProcessingUnit.ID)
}

func TestGetUnitRejectsMismatchedJob(t *testing.T) {
	s, st, _ := newTestServer(t)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1"}))
	require.NoError(t, st.CreateWorkUnit(&store.WorkUnit{ID: "u-1", JobID: "job-1"}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/other-job/units/u-1", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLiveUnitsOnlyReturnsActiveUnits(t *testing.T) {
	s, st, _ := newTestServer(t)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1"}))
	done := &store.WorkUnit{ID: "u-done", JobID: "job-1", Status: store.UnitStatusCompleted}
	require.NoError(t, st.CreateWorkUnit(done))
	active := &store.WorkUnit{ID: "u-active", JobID: "job-1", Status: store.UnitStatusProcessing, WorkerID: "w-1"}
	require.NoError(t, st.CreateWorkUnit(active))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/live", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		LiveUnits []liveUnit `json:"live_units"`
	}
	decodeJSON(t, rec.Body, &body)
	require.Len(t, body.LiveUnits, 1)
	require.Equal(t, "u-active", body.LiveUnits[0].UnitID)
}

func TestStatsAggregatesAcrossJobs(t *testing.T) {
	s, st, _ := newTestServer(t)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1", Status: store.JobStatusCompleted, TotalUnits: 3, CompletedUnits: 3}))
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-2", Status: store.JobStatusFailed, TotalUnits: 2, CompletedUnits: 1, FailedUnits: 1}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	decodeJSON(t, rec.Body, &stats)
	require.Equal(t, 2, stats.TotalJobs)
	require.Equal(t, 5, stats.TotalUnits)
	require.Equal(t, 4, stats.CompletedUnits)
	require.Equal(t, 1, stats.FailedUnits)
}

func TestBypassSpawnsSupervisorAndSetsFlag(t *testing.T) {
	s, st, spawner := newTestServer(t)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1", Metadata: map[string]interface{}{}}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/bypass", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, spawner.spawned, 1)

	job, err := st.GetJob("job-1")
	require.NoError(t, err)
	require.True(t, job.BypassFailures)
}

func TestKillJobWithoutRecordedPIDReturnsError(t *testing.T) {
	s, st, _ := newTestServer(t)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1"}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/kill", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorEnvelope
	decodeJSON(t, rec.Body, &body)
	require.Equal(t, CodeServerError, body.Error.Code)
}

func TestRestartJobSpawnsWhenNotAlreadyRunning(t *testing.T) {
	s, st, spawner := newTestServer(t)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1", Metadata: map[string]interface{}{}}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/restart", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, spawner.spawned, 1)
}

func TestKillUnitRejectsNonProcessingUnit(t *testing.T) {
	s, st, _ := newTestServer(t)
	require.NoError(t, st.CreateWorkUnit(&store.WorkUnit{ID: "u-1", JobID: "job-1", Status: store.UnitStatusPending}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/units/u-1/kill", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorEnvelope
	decodeJSON(t, rec.Body, &body)
	require.Equal(t, CodeUnitNotFound, body.Error.Code)
}

func TestReadOnlyServerRejectsWriteRoutes(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "readonly.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-1"}))

	s := New(st, nil, WithLogger(discardLogger()), WithReadOnly())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/kill", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRestartUnitResetsFailedUnit(t *testing.T) {
	s, st, _ := newTestServer(t)
	require.NoError(t, st.CreateWorkUnit(&store.WorkUnit{
		ID: "u-1", JobID: "job-1", Status: store.UnitStatusFailed,
		Error: "boom", CompletedAt: mustNow(),
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/units/u-1/restart", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	unit, err := st.GetWorkUnit("u-1")
	require.NoError(t, err)
	require.Equal(t, store.UnitStatusPending, unit.Status)
}
