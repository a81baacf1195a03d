package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/pulse"
	"github.com/teranos/pressline/pulse/async"
)

// timeNow is replaced in tests
var timeNow = time.Now

// openService loads configuration and opens the job runtime it describes
func openService(ctx context.Context) (*am.Config, *pulse.Service, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := pulse.Open(ctx, cfg, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, svc, nil
}

// parseStatus converts a --status flag into a filter; empty means all
func parseStatus(raw string) (*async.JobStatus, error) {
	if raw == "" {
		return nil, nil
	}
	if !async.IsValidStatus(raw) {
		names := make([]string, len(async.AllStatuses))
		for i, s := range async.AllStatuses {
			names[i] = string(s)
		}
		return nil, fmt.Errorf("unknown status %q (valid: %s)", raw, strings.Join(names, ", "))
	}
	status := async.JobStatus(raw)
	return &status, nil
}

// parseAge accepts Go durations plus a day suffix ("30d")
func parseAge(raw string) (time.Duration, error) {
	if strings.HasSuffix(raw, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid age %q", raw)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid age %q", raw)
	}
	return d, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
