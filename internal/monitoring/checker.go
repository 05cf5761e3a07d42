package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates reconciliation health on an interval and forwards
// triggered alerts to the webhook.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker creates a Checker. A non-positive interval falls back to five
// minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("watching reconciliation health",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			log.Info("reconciliation health watch stopped")
			return
		}
		_, _, _ = c.Check(ctx)

		select {
		case <-ctx.Done():
			log.Info("reconciliation health watch stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot over the lookback window, evaluates it and
// sends whatever alerts it triggers.
func (c *Checker) Check(ctx context.Context) (*MetricsSnapshot, []Alert, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		zap.L().Error("monitoring: collect reconciliation metrics", zap.Error(err))
		return nil, nil, err
	}

	alerts := c.alerter.Evaluate(snap)
	fields := []zap.Field{
		zap.Int("checks", snap.ChecksTotal),
		zap.Int("dirty", snap.ChecksDirty),
		zap.Float64("dirty_rate", snap.DirtyRate),
		zap.Int("unparsed", snap.Unparsed),
		zap.Strings("open_circuits", snap.OpenCircuits),
	}
	if len(alerts) == 0 {
		zap.L().Debug("monitoring: reconciliation healthy", fields...)
		return snap, nil, nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	zap.L().Info("monitoring: reconciliation alerts raised",
		append(fields,
			zap.Int("alerts_triggered", len(alerts)),
			zap.Int("alerts_sent", sent),
		)...,
	)
	return snap, alerts, nil
}
