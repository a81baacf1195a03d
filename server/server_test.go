package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/artifact"
	"github.com/teranos/pressline/errors"
	pltest "github.com/teranos/pressline/internal/testing"
	"github.com/teranos/pressline/pulse"
	"github.com/teranos/pressline/pulse/async"
	"github.com/teranos/pressline/pulse/schedule"
)

const testToken = "warp-star"

type testRig struct {
	svc    *pulse.Service
	server *httptest.Server
}

func newTestRig(t *testing.T, token string) *testRig {
	t.Helper()
	v := viper.New()
	am.SetDefaults(v)
	cfg, err := am.LoadWithViper(v)
	require.NoError(t, err)
	cfg.Server.TriggerToken = token

	log := zaptest.NewLogger(t).Sugar()
	conn := pltest.CreateMigratedTestDB(t)
	artifacts, err := artifact.NewFSStore(filepath.Join(t.TempDir(), "artifacts"), "")
	require.NoError(t, err)

	svc, err := pulse.New(context.Background(), cfg, pulse.Components{
		Store: async.NewStore(conn),
		Runs:  schedule.NewRunStore(conn, log),
		Pipeline: async.PipelineFunc(func(ctx context.Context, req async.GenerationRequest) (json.RawMessage, error) {
			return json.RawMessage(`{"headline":"Poyo"}`), nil
		}),
		Artifacts: artifacts,
	}, log)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	server := httptest.NewServer(New(svc, cfg.Server, log).Router())
	t.Cleanup(server.Close)
	return &testRig{svc: svc, server: server}
}

func (r *testRig) do(t *testing.T, method, path string, body interface{}, token string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (r *testRig) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.svc.Wait(ctx))
}

func TestCreateAndGetJob(t *testing.T) {
	t.Log("🤖 TAS Bot posts a job over HTTP...")
	rig := newTestRig(t, testToken)

	resp, body := rig.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"tenant_id": "tenant-1",
		"params":    map[string]string{"topic": "speedrun"},
	}, testToken)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["triggered"])

	job := body["job"].(map[string]interface{})
	id := job["id"].(string)
	rig.waitIdle(t)

	resp, body = rig.do(t, http.MethodGet, "/api/jobs/"+id, nil, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.NotEmpty(t, body["artifact_uri"])
	assert.NotContains(t, body, "claim_token")
}

func TestGetJobNotFound(t *testing.T) {
	rig := newTestRig(t, "")
	resp, body := rig.do(t, http.MethodGet, "/api/jobs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "not found")
}

func TestCreateJobInvalidBody(t *testing.T) {
	rig := newTestRig(t, "")

	resp, _ := rig.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{"unknown": 1}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, rig.server.URL+"/api/jobs", bytes.NewBufferString(`{"params":`))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestTriggerTokenRequired(t *testing.T) {
	t.Log("⭐ Kirby knocks without the password...")
	rig := newTestRig(t, testToken)

	for _, tc := range []struct {
		name   string
		method string
		path   string
	}{
		{"create", http.MethodPost, "/api/jobs"},
		{"sweep", http.MethodPost, "/api/pulse/sweep"},
		{"monitor", http.MethodPost, "/api/pulse/monitor"},
		{"stats", http.MethodGet, "/api/pulse/stats"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := rig.do(t, tc.method, tc.path, nil, "")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")

			resp, _ = rig.do(t, tc.method, tc.path, nil, "wrong-token")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	// Health and metrics stay open
	resp, _ := rig.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = rig.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSweepMonitorAndStats(t *testing.T) {
	t.Log("⏳ Cronos triggers a sweep and a monitor pass remotely...")
	rig := newTestRig(t, testToken)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		job, err := async.NewJob("tenant-1", "", nil, time.Now().UTC())
		require.NoError(t, err)
		require.NoError(t, rig.svc.Store().CreateJob(ctx, job))
	}

	resp, body := rig.do(t, http.MethodPost, "/api/pulse/sweep", nil, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["triggered"])
	rig.waitIdle(t)

	resp, body = rig.do(t, http.MethodPost, "/api/pulse/monitor", nil, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["total_processing"])

	resp, body = rig.do(t, http.MethodGet, "/api/pulse/stats", nil, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	queue := body["queue"].(map[string]interface{})
	assert.EqualValues(t, 2, queue["completed"])
	runs := body["recent_runs"].([]interface{})
	require.Len(t, runs, 2)
	assert.Equal(t, "http", runs[0].(map[string]interface{})["trigger"])
}

func TestListJobs(t *testing.T) {
	rig := newTestRig(t, "")
	ctx := context.Background()
	job, err := async.NewJob("tenant-1", "", nil, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, rig.svc.Store().CreateJob(ctx, job))

	resp, body := rig.do(t, http.MethodGet, "/api/jobs?status=pending&limit=10", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = rig.do(t, http.MethodGet, "/api/jobs?status=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = rig.do(t, http.MethodGet, "/api/jobs?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(errors.NewNotFoundError("job %s", "x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(errors.Wrap(errors.NewInvalidRequestError("bad"), "create job")))
	assert.Equal(t, http.StatusUnauthorized, statusFor(errors.ErrUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("database is locked")))
}
