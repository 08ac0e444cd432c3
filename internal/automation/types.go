package automation

import (
	"time"

	"github.com/ImGhostCode/smart-garden/internal/address"
)

// Metric names the reading a rule watches.
type Metric string

const (
	MetricSoil        Metric = "soil"
	MetricHumidity    Metric = "humidity"
	MetricTemperature Metric = "temperature"
)

// AllMetrics returns every metric a rule can watch.
func AllMetrics() []Metric {
	return []Metric{MetricSoil, MetricHumidity, MetricTemperature}
}

// Rule switches a node's pump on for Duration seconds when its Metric falls
// below Min.
//
// A rule only fires inside one of its time windows (any time when it has
// none), once per cooldown, and while the day's pump runtime stays within
// MaxDailyRuntimeSec.
type Rule struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	NodeID address.NodeID `json:"node_id"`
	Metric Metric         `json:"metric"`
	Min    float64        `json:"min"`

	DurationSec        int          `json:"duration_sec"`
	CooldownSec        int          `json:"cooldown_sec"`
	MaxDailyRuntimeSec int          `json:"max_daily_runtime_sec"` // 0 = no cap
	Enabled            bool         `json:"enabled"`
	Windows            []TimeWindow `json:"time_windows"`

	// Trigger bookkeeping, maintained by the engine.
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	RuntimeDay      string     `json:"runtime_day,omitempty"` // YYYY-MM-DD the runtime counter belongs to
	TodayRuntimeSec int        `json:"today_runtime_sec"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeWindow is an inclusive range of local wall-clock minutes, "HH:MM".
// A window whose end is before its start wraps past midnight.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Pump states and who set them.
const (
	PumpOn  = "ON"
	PumpOff = "OFF"

	SourceManual = "manual"
	SourceAuto   = "auto"
)

// PumpState is the last known state of one node's pump.
type PumpState struct {
	NodeID    address.NodeID `json:"node_id"`
	State     string         `json:"state"`
	Source    string         `json:"source"`
	RuleID    string         `json:"rule_id,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DeepCopy returns an independent copy of r for cache isolation.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}
	cpy := *r
	cpy.LastTriggeredAt = cloneTime(r.LastTriggeredAt)
	if r.Windows != nil {
		cpy.Windows = append([]TimeWindow(nil), r.Windows...)
	}
	return &cpy
}

// runtimeOn returns the pump seconds r has used on day.
func (r *Rule) runtimeOn(day string) int {
	if r.RuntimeDay != day {
		return 0
	}
	return r.TodayRuntimeSec
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
