// Package pipeline calls the external content-generation service over HTTP.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/internal/httpclient"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/pulse/async"
	"github.com/teranos/pressline/version"
)

// DefaultTimeout bounds one generation call
const DefaultTimeout = 20 * time.Minute

// maxResponseBytes caps the artifact read from the pipeline
const maxResponseBytes = 32 << 20

// Phases reported around the HTTP call
const (
	PhaseRequested = "requested"
	PhaseReceived  = "received"
)

// request is the wire body POSTed to the pipeline
type request struct {
	JobID         string          `json:"job_id"`
	TenantID      string          `json:"tenant_id,omitempty"`
	DestinationID string          `json:"destination_id,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
	Attempt       int             `json:"attempt"`
}

// HTTPPipeline implements async.Pipeline by POSTing the job to a generation service.
// The response body must be a JSON document; it becomes the artifact as-is.
type HTTPPipeline struct {
	url    string
	client *httpclient.Client
	log    *zap.SugaredLogger
}

var _ async.Pipeline = (*HTTPPipeline)(nil)

// New creates an HTTP pipeline from config
func New(cfg am.PipelineConfig, log *zap.SugaredLogger) (*HTTPPipeline, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := httpclient.New(timeout, httpclient.Options{BlockPrivateIPs: cfg.BlockPrivateIPs})
	if _, err := client.ValidateURL(cfg.URL); err != nil {
		return nil, errors.Wrapf(err, "invalid pipeline.url %q", cfg.URL)
	}

	return &HTTPPipeline{
		url:    cfg.URL,
		client: client,
		log:    log.Named("pipeline"),
	}, nil
}

// Generate sends one generation request and waits for the artifact
func (p *HTTPPipeline) Generate(ctx context.Context, req async.GenerationRequest) (json.RawMessage, error) {
	body, err := json.Marshal(request{
		JobID:         req.JobID,
		TenantID:      req.TenantID,
		DestinationID: req.DestinationID,
		Params:        req.Params,
		Attempt:       req.Attempt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode pipeline request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build pipeline request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("X-Pressline-Job-Id", req.JobID)

	reportPhase(ctx, req, PhaseRequested)
	start := time.Now()

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read pipeline response")
	}
	if len(data) > maxResponseBytes {
		return nil, errors.Newf("pipeline response exceeds %d bytes", maxResponseBytes)
	}

	logger.JobLogger(p.log, req.JobID).Debugw("Pipeline responded",
		logger.FieldStatus, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
		"attempt", req.Attempt,
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := errors.Newf("pipeline returned status %d", resp.StatusCode)
		if snippet := bytes.TrimSpace(data); len(snippet) > 0 {
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}
			err = errors.WithDetail(err, fmt.Sprintf("Body: %s", snippet))
		}
		return nil, err
	}

	if !json.Valid(data) {
		return nil, errors.New("pipeline returned an invalid JSON artifact")
	}

	reportPhase(ctx, req, PhaseReceived)
	return json.RawMessage(data), nil
}

func reportPhase(ctx context.Context, req async.GenerationRequest, phase string) {
	if req.ReportPhase != nil {
		req.ReportPhase(ctx, phase)
	}
}
