package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvester/internal/progress"
	"github.com/JakeFAU/pypi-harvester/internal/progress/sinks"
)

func newTestServer(t *testing.T, ready ReadinessFunc) (*Server, uuid.UUID) {
	t.Helper()

	runID := uuid.MustParse("00000000-0000-7000-8000-0000000000aa")
	snap := sinks.NewSnapshotSink(4)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	base := progress.Event{RunID: progress.UUIDToBytes(runID), TS: ts, Kind: "index"}
	events := []progress.Event{
		withStage(base, progress.StageRunStart),
		{RunID: base.RunID, TS: ts, Kind: "index", Stage: progress.StageBucketStart, Bucket: "a", Jobs: 2},
		{
			RunID: base.RunID, TS: ts, Kind: "index", Stage: progress.StageJobDone,
			Bucket: "a", Job: "metadata foo-bar", State: "succeeded", Attempts: 3,
		},
	}
	require.NoError(t, snap.Consume(context.Background(), events))
	return NewServer(snap, ready, zap.NewNop()), runID
}

func withStage(evt progress.Event, stage progress.Stage) progress.Event {
	evt.Stage = stage
	return evt
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := serve(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusOK, serve(t, s, "/readyz").Code)

	failing, _ := newTestServer(t, func(context.Context) error { return errors.New("store dir missing") })
	rec = serve(t, failing, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "store dir missing")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	_ = serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	s, runID := newTestServer(t, nil)
	rec := serve(t, s, "/v1/progress?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []sinks.RunSnapshot `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, runID, body.Runs[0].RunID)
	assert.Equal(t, sinks.RunRunning, body.Runs[0].Status)

	assert.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/progress?limit=zero").Code)
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	s, runID := newTestServer(t, nil)
	rec := serve(t, s, "/v1/progress/"+runID.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run sinks.RunSnapshot `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Run.Buckets, 1)
	assert.Equal(t, int64(2), body.Run.Buckets[0].Jobs)
	assert.Equal(t, int64(2), body.Run.Buckets[0].Retries)
	assert.Equal(t, int64(1), body.Run.Jobs["succeeded"])

	assert.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/progress/not-a-uuid").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, s, "/v1/progress/"+uuid.NewString()).Code)
}

func TestProgressWithoutReader(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/v1/progress").Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
