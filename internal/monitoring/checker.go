package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/partmatch/internal/config"
)

// Checker samples match quality on a fixed cadence and pushes degradations
// through the alerter. It watches the rates the pipeline cannot see from
// inside a single run: escalation and warning rates across the lookback
// window and the depth of the manual review backlog.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	log       *zap.Logger
}

// NewChecker builds a quality checker from the monitoring config.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		log:       zap.L().With(zap.String("component", "quality_checker")),
	}
}

// Run samples once immediately, then on every interval until ctx ends, so
// a serve process that starts into an already-degraded backlog alerts on
// boot rather than one interval later.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("quality checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("quality checker stopped")
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

// sample collects one snapshot and delivers whatever alerts it trips.
func (c *Checker) sample(ctx context.Context) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Warn("quality snapshot failed", zap.Error(err))
		return
	}

	c.log.Debug("match quality sampled",
		zap.Int("items", snap.ItemsTotal),
		zap.Float64("match_rate", snap.MatchRate),
		zap.Float64("escalation_rate", snap.EscalationRate),
		zap.Float64("warning_rate", snap.WarningRate),
		zap.Int("review_backlog", snap.ReviewBacklog),
	)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Warn("match quality degraded",
		zap.Int("alerts", len(alerts)),
		zap.Int("delivered", sent),
		zap.Float64("escalation_rate", snap.EscalationRate),
		zap.Float64("warning_rate", snap.WarningRate),
		zap.Int("review_backlog", snap.ReviewBacklog),
	)
}
