package gateway

import (
	"sync"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/infrastructure/mqtt"
)

// HealthPublisher publishes retained status documents.
type HealthPublisher interface {
	PublishStatus(msg mqtt.StatusMessage) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	GatewayID string
	Version   string

	// Interval is how often to publish health status. Zero disables
	// periodic reports.
	Interval time.Duration

	Publisher HealthPublisher

	// Stats returns the counters attached to each report.
	Stats func() map[string]any

	// Now defaults to time.Now.
	Now func() time.Time
}

// HealthReporter publishes periodic health on the gateway status topic.
//
// It has no goroutine of its own: the control loop calls MaybePublish every
// step and the reporter decides from the clock whether a report is due.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time
	last      time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a health reporter. The first report is due one
// interval after creation.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	now := cfg.Now()
	return &HealthReporter{
		cfg:       cfg,
		startTime: now,
		last:      now,
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// MaybePublish publishes a report if the interval has elapsed since the
// last one. It reports whether a publish was attempted.
func (h *HealthReporter) MaybePublish(now time.Time) bool {
	if h.cfg.Interval <= 0 || h.cfg.Publisher == nil {
		return false
	}
	if now.Sub(h.last) < h.cfg.Interval {
		return false
	}
	h.last = now

	if !h.cfg.Publisher.IsConnected() {
		return false
	}
	if err := h.PublishNow(now); err != nil {
		h.logWarn("failed to publish health", "error", err)
	}
	return true
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow(now time.Time) error {
	details := map[string]any{
		"uptime_seconds": int64(now.Sub(h.startTime).Seconds()),
	}
	if h.cfg.Version != "" {
		details["version"] = h.cfg.Version
	}
	if h.cfg.Stats != nil {
		for k, v := range h.cfg.Stats() {
			details[k] = v
		}
	}

	status, reason := mqtt.StatusHealthy, ""
	if ready, ok := details["radio_ready"].(bool); ok && !ready {
		status, reason = StatusDegraded, "radio not ready"
	}

	return h.cfg.Publisher.PublishStatus(mqtt.StatusMessage{
		Status:  status,
		Reason:  reason,
		Details: details,
	})
}

// StatusDegraded is reported when the gateway runs without a working radio.
const StatusDegraded = "degraded"

func (h *HealthReporter) logWarn(msg string, args ...any) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, args...)
	}
}
