package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmatch/internal/config"
)

func alertCfg() config.MonitoringConfig {
	return config.MonitoringConfig{
		EscalationRateThreshold: 0.25,
		WarningRateThreshold:    0.40,
		ReviewBacklogThreshold:  50,
		LookbackWindowHours:     24,
	}
}

func TestEvaluateNoAlertsWhenHealthy(t *testing.T) {
	a := NewAlerter(alertCfg())

	alerts := a.Evaluate(&MetricsSnapshot{
		ItemsTotal:     100,
		ItemsMatched:   90,
		ItemsWarned:    10,
		ItemsEscalated: 10,
		EscalationRate: 0.10,
		WarningRate:    0.11,
		ReviewBacklog:  5,
		LookbackHours:  24,
	})
	assert.Empty(t, alerts)
}

func TestEvaluateEscalationRateAlert(t *testing.T) {
	a := NewAlerter(alertCfg())

	alerts := a.Evaluate(&MetricsSnapshot{
		ItemsTotal:     100,
		ItemsEscalated: 40,
		EscalationRate: 0.40,
		LookbackHours:  24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertEscalationRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestEvaluateSkipsSmallSamples(t *testing.T) {
	a := NewAlerter(alertCfg())

	alerts := a.Evaluate(&MetricsSnapshot{
		ItemsTotal:     4,
		ItemsEscalated: 4,
		EscalationRate: 1.0,
	})
	assert.Empty(t, alerts)
}

func TestEvaluateReviewBacklogAlert(t *testing.T) {
	a := NewAlerter(alertCfg())

	alerts := a.Evaluate(&MetricsSnapshot{ReviewBacklog: 120})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
}

func TestSendAlertsPostsToWebhook(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertReviewBacklog, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := alertCfg()
	cfg.AlertWebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertReviewBacklog, Severity: "high", Message: "backlog"},
	})
	assert.Equal(t, 1, sent)
	assert.EqualValues(t, 1, received.Load())
}

func TestSendAlertsNoWebhookConfigured(t *testing.T) {
	a := NewAlerter(alertCfg())
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertWarningRate}}))
}

func TestSendAlertsCountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := alertCfg()
	cfg.AlertWebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertEscalationRate}})
	assert.Zero(t, sent)
}
