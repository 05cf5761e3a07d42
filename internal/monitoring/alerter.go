package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDiscrepancyRate   AlertType = "discrepancy_rate"
	AlertUnparsedDocuments AlertType = "unparsed_documents"
	AlertCircuitOpen       AlertType = "circuit_open"
)

// minChecksForRate is the sample size below which the discrepancy rate is
// not alerted on.
const minChecksForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.DirtyRateThreshold > 0 && snap.ChecksTotal >= minChecksForRate && snap.DirtyRate > a.cfg.DirtyRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDiscrepancyRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Discrepancy rate %.1f%% exceeds threshold %.1f%% (%d of %d checks in last %dh)",
				snap.DirtyRate*100, a.cfg.DirtyRateThreshold*100,
				snap.ChecksDirty, snap.ChecksTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"dirty_rate": snap.DirtyRate,
				"threshold":  a.cfg.DirtyRateThreshold,
				"mismatches": snap.Mismatches,
			},
			Timestamp: now,
		})
	}

	if snap.Unparsed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertUnparsedDocuments,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d uploaded document(s) could not be parsed into fields in last %dh",
				snap.Unparsed, snap.LookbackHours,
			),
			Details: map[string]any{
				"unparsed":          snap.Unparsed,
				"invoices_ingested": snap.InvoicesIngested,
				"pos_ingested":      snap.POsIngested,
			},
			Timestamp: now,
		})
	}

	if len(snap.OpenCircuits) > 0 {
		open := append([]string(nil), snap.OpenCircuits...)
		sort.Strings(open)
		alerts = append(alerts, Alert{
			Type:      AlertCircuitOpen,
			Severity:  "high",
			Message:   "Circuit open for " + strings.Join(open, ", "),
			Details:   map[string]any{"services": open},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
