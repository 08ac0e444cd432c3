package automation

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Validation limits.
const (
	maxNameLength      = 100
	minDurationSec     = 1
	maxDurationSec     = 3600
	maxCooldownSec     = 86400
	maxDailyRuntimeSec = 86400
	maxWindows         = 8
)

// Defaults for fields a new rule leaves out.
const (
	DefaultDurationSec        = 20
	DefaultCooldownSec        = 300
	DefaultMaxDailyRuntimeSec = 1800
)

// Pre-computed validation set for O(1) metric lookups.
var validMetrics map[Metric]struct{}

func init() {
	validMetrics = make(map[Metric]struct{}, len(AllMetrics()))
	for _, m := range AllMetrics() {
		validMetrics[m] = struct{}{}
	}
}

// ValidateRule checks a rule's fields. Node ids are checked against the
// address table by the registry.
// Returns an error describing the first validation failure found.
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidRule)
	}
	if len(r.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRule, maxNameLength)
	}
	if _, ok := validMetrics[r.Metric]; !ok {
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidRule, r.Metric)
	}
	if math.IsNaN(r.Min) || math.IsInf(r.Min, 0) {
		return fmt.Errorf("%w: min must be a finite number", ErrInvalidRule)
	}
	if r.DurationSec < minDurationSec || r.DurationSec > maxDurationSec {
		return fmt.Errorf("%w: duration_sec must be %d-%d", ErrInvalidRule, minDurationSec, maxDurationSec)
	}
	if r.CooldownSec < 0 || r.CooldownSec > maxCooldownSec {
		return fmt.Errorf("%w: cooldown_sec must be 0-%d", ErrInvalidRule, maxCooldownSec)
	}
	if r.MaxDailyRuntimeSec < 0 || r.MaxDailyRuntimeSec > maxDailyRuntimeSec {
		return fmt.Errorf("%w: max_daily_runtime_sec must be 0-%d", ErrInvalidRule, maxDailyRuntimeSec)
	}
	if len(r.Windows) > maxWindows {
		return fmt.Errorf("%w: at most %d time windows", ErrInvalidRule, maxWindows)
	}
	for i, w := range r.Windows {
		if _, _, err := w.bounds(); err != nil {
			return fmt.Errorf("time window %d: %w", i, err)
		}
	}
	return nil
}

// bounds returns the window's start and end in minutes after midnight.
func (w TimeWindow) bounds() (start, end int, err error) {
	if start, err = parseClock(w.Start); err != nil {
		return 0, 0, err
	}
	if end, err = parseClock(w.End); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// contains reports whether minute (after midnight) falls inside w.
func (w TimeWindow) contains(minute int) bool {
	start, end, err := w.bounds()
	if err != nil {
		return false
	}
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidWindow, s)
	}
	h, herr := strconv.Atoi(hh)
	m, merr := strconv.Atoi(mm)
	if herr != nil || merr != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidWindow, s)
	}
	return h*60 + m, nil
}

// GenerateID creates a new unique rule ID.
func GenerateID() string {
	return uuid.New().String()
}
