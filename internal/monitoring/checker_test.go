package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmatch/internal/config"
	"github.com/sells-group/partmatch/internal/model"
)

func TestCheckerAlertsOnBoot(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, model.Order{ID: "ord-1"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunResult(ctx, run.ID, &model.RunResult{
		ItemsTotal: 20, ItemsMatched: 10, ItemsEscalated: 10,
	}))

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := alertCfg()
	cfg.CheckIntervalSecs = 3600
	cfg.AlertWebhookURL = srv.URL

	checker := NewChecker(NewCollector(s), NewAlerter(cfg), cfg)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		checker.Run(runCtx)
		close(done)
	}()

	// The first sample happens before the first tick.
	require.Eventually(t, func() bool { return hits.Load() >= 1 },
		5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("checker did not stop on context cancellation")
	}
}

func TestCheckerHealthyStoreStaysQuiet(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, model.Order{ID: "ord-1"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunResult(ctx, run.ID, &model.RunResult{
		ItemsTotal: 20, ItemsMatched: 20,
	}))

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := alertCfg()
	cfg.CheckIntervalSecs = 3600
	cfg.AlertWebhookURL = srv.URL

	checker := NewChecker(NewCollector(s), NewAlerter(cfg), cfg)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		checker.Run(runCtx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Zero(t, hits.Load())
}

func TestNewCheckerDefaultsInterval(t *testing.T) {
	c := NewChecker(nil, nil, config.MonitoringConfig{})
	assert.Equal(t, 5*time.Minute, c.interval)
}
