package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/internal/httpclient"
	"github.com/teranos/pressline/pulse/async"
)

func newTestPipeline(t *testing.T, handler http.HandlerFunc) *HTTPPipeline {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := New(am.PipelineConfig{URL: server.URL + "/generate", TimeoutSeconds: 5}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return p
}

func TestGenerateSuccess(t *testing.T) {
	t.Log("⭐ Kirby calls the generation service... 'Poyo!'")
	var received request
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "job-1", r.Header.Get("X-Pressline-Job-Id"))
		assert.Equal(t, "pressline/dev", r.Header.Get("User-Agent"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"Warp Star","body":"..."}`))
	})

	var phases []string
	artifact, err := p.Generate(context.Background(), async.GenerationRequest{
		JobID:         "job-1",
		TenantID:      "tenant-1",
		DestinationID: "dest-1",
		Params:        json.RawMessage(`{"topic":"stars"}`),
		Attempt:       2,
		ReportPhase:   func(ctx context.Context, phase string) { phases = append(phases, phase) },
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Warp Star","body":"..."}`, string(artifact))
	assert.Equal(t, "job-1", received.JobID)
	assert.Equal(t, 2, received.Attempt)
	assert.JSONEq(t, `{"topic":"stars"}`, string(received.Params))
	assert.Equal(t, []string{PhaseRequested, PhaseReceived}, phases)
}

func TestGenerateUpstreamErrorIsClassified(t *testing.T) {
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})

	_, err := p.Generate(context.Background(), async.GenerationRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, errors.FlattenDetails(err), "model overloaded")
	assert.Equal(t, async.ErrorCodeUpstreamError, async.ClassifyError("", err).Code)
}

func TestGenerateRateLimited(t *testing.T) {
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.Generate(context.Background(), async.GenerationRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.Equal(t, async.ErrorCodeRateLimited, async.ClassifyError("", err).Code)
}

func TestGenerateRejectsInvalidJSON(t *testing.T) {
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>oops</html>"))
	})

	_, err := p.Generate(context.Background(), async.GenerationRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.Equal(t, async.ErrorCodeValidationError, async.ClassifyError("", err).Code)
}

func TestGenerateHonoursContext(t *testing.T) {
	release := make(chan struct{})
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Generate(ctx, async.GenerationRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNewValidatesURL(t *testing.T) {
	_, err := New(am.PipelineConfig{URL: "ftp://pipeline/generate"}, zap.NewNop().Sugar())
	assert.Error(t, err)

	_, err = New(am.PipelineConfig{URL: "http://localhost:8090/generate", BlockPrivateIPs: true}, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpclient.ErrBlocked))

	p, err := New(am.PipelineConfig{URL: "http://localhost:8090/generate"}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, p.client.Timeout)
}
