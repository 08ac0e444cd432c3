package automation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/gateway"
)

// offRetryDelay is how long a failed auto-off waits before publishing again.
const offRetryDelay = 5 * time.Second

// dayLayout keys the daily runtime counter.
const dayLayout = "2006-01-02"

// Publisher publishes pump commands to the broker. *mqtt.Session satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// CommandRecorder receives the commands the engine issues.
// *gateway.Gateway satisfies it.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, ev gateway.CommandEvent)
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can drive auto-off timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Options configures an Engine.
type Options struct {
	// CommandTopic is the pump command template with a "+" for the node id.
	CommandTopic string
	// Location is used for time windows and the daily runtime counter.
	// Defaults to time.Local.
	Location *time.Location
	// Clock defaults to the wall clock.
	Clock Clock
	// Logger defaults to a no-op logger.
	Logger Logger
}

// Stats holds engine counters.
type Stats struct {
	Triggers        uint64
	AutoOffs        uint64
	PublishFailures uint64
}

// Engine runs threshold rules against incoming readings.
//
// When an enabled rule of the reading's node matches, the engine publishes
// ON on the node's command topic, exactly as the HTTP API does, and
// publishes OFF once the rule's duration has passed. Commands reach the
// radio through the broker and the gateway control loop.
//
// The engine also tracks each pump's state. Manual commands (API or any
// other broker client) take over the pump and cancel a pending auto-off.
// No rule fires while a pump is on.
//
// Thread Safety: safe for concurrent use. OnReading runs on the control
// goroutine, auto-off callbacks on timer goroutines.
type Engine struct {
	registry  *Registry
	repo      Repository
	table     *address.Table
	publisher Publisher
	recorder  CommandRecorder
	topic     string
	loc       *time.Location
	clock     Clock
	logger    Logger

	mu     sync.Mutex
	pumps  map[address.NodeID]PumpState
	timers map[address.NodeID]*pendingOff

	triggers        atomic.Uint64
	autoOffs        atomic.Uint64
	publishFailures atomic.Uint64
}

var _ gateway.Sink = (*Engine)(nil)

// NewEngine creates an automation engine.
//
// Parameters:
//   - registry: Rule registry, already refreshed
//   - repo: Repository for pump state
//   - table: Address table used to build command topics
//   - publisher: Broker publisher for pump commands
//   - recorder: Receives command events (may be nil)
func NewEngine(registry *Registry, repo Repository, table *address.Table, publisher Publisher, recorder CommandRecorder, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Engine{
		registry:  registry,
		repo:      repo,
		table:     table,
		publisher: publisher,
		recorder:  recorder,
		topic:     opts.CommandTopic,
		loc:       opts.Location,
		clock:     opts.Clock,
		logger:    opts.Logger,
		pumps:     make(map[address.NodeID]PumpState),
		timers:    make(map[address.NodeID]*pendingOff),
	}
}

// Start loads the stored pump states. An automatic run that was still
// going at shutdown gets its auto-off rescheduled, immediately if it has
// already expired.
func (e *Engine) Start(ctx context.Context) error {
	states, err := e.repo.ListPumpStates(ctx)
	if err != nil {
		return fmt.Errorf("loading pump state: %w", err)
	}

	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range states {
		if !e.table.Contains(st.NodeID) {
			continue
		}
		e.pumps[st.NodeID] = st
		if st.State == PumpOn && st.Source == SourceAuto && st.ExpiresAt != nil {
			e.scheduleOffLocked(st.NodeID, max(st.ExpiresAt.Sub(now), 0))
			e.logger.Info("automatic pump run resumed", "node_id", int(st.NodeID), "expires_at", st.ExpiresAt)
		}
	}
	return nil
}

// Close cancels pending auto-off timers. Their state stays stored, so Start
// picks them up again.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for node, p := range e.timers {
		p.timer.Stop()
		delete(e.timers, node)
	}
}

// OnReading evaluates the node's enabled rules. The first rule that matches
// switches the pump on.
func (e *Engine) OnReading(ctx context.Context, r gateway.Reading) error {
	rules := e.registry.enabledFor(r.Node)
	if len(rules) == 0 {
		return nil
	}

	if st := e.PumpState(r.Node); st.State == PumpOn {
		return nil
	}

	now := e.clock.Now()
	local := now.In(e.loc)
	day := local.Format(dayLayout)
	minute := local.Hour()*60 + local.Minute()

	for i := range rules {
		rule := &rules[i]
		value, ok := readingValue(rule.Metric, r)
		if !ok || value >= rule.Min {
			continue
		}
		if reason := e.blocked(rule, now, day, minute); reason != "" {
			e.logger.Debug("automation rule matched but skipped",
				"rule_id", rule.ID,
				"node_id", int(r.Node),
				"reason", reason,
			)
			continue
		}
		return e.trigger(ctx, rule, value, now, day)
	}
	return nil
}

// blocked returns why a matching rule may not fire now, or "".
func (e *Engine) blocked(rule *Rule, now time.Time, day string, minute int) string {
	if len(rule.Windows) > 0 {
		inside := false
		for _, w := range rule.Windows {
			if w.contains(minute) {
				inside = true
				break
			}
		}
		if !inside {
			return "outside time window"
		}
	}
	if rule.LastTriggeredAt != nil {
		next := rule.LastTriggeredAt.Add(time.Duration(rule.CooldownSec) * time.Second)
		if now.Before(next) {
			return "cooldown"
		}
	}
	if rule.MaxDailyRuntimeSec > 0 && rule.runtimeOn(day)+rule.DurationSec > rule.MaxDailyRuntimeSec {
		return "daily runtime cap"
	}
	return ""
}

// trigger switches the pump on for the rule's duration.
func (e *Engine) trigger(ctx context.Context, rule *Rule, value float64, now time.Time, day string) error {
	duration := time.Duration(rule.DurationSec) * time.Second
	expires := now.Add(duration)

	e.mu.Lock()
	prev, hadPrev := e.pumps[rule.NodeID]
	e.pumps[rule.NodeID] = PumpState{
		NodeID:    rule.NodeID,
		State:     PumpOn,
		Source:    SourceAuto,
		RuleID:    rule.ID,
		ExpiresAt: &expires,
		UpdatedAt: now,
	}
	e.mu.Unlock()

	if err := e.publish(ctx, rule.NodeID, PumpOn); err != nil {
		e.mu.Lock()
		if hadPrev {
			e.pumps[rule.NodeID] = prev
		} else {
			delete(e.pumps, rule.NodeID)
		}
		e.mu.Unlock()
		return fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	e.triggers.Add(1)

	e.mu.Lock()
	e.scheduleOffLocked(rule.NodeID, duration)
	st := e.pumps[rule.NodeID]
	e.mu.Unlock()
	e.savePumpState(ctx, st)

	runtime := rule.runtimeOn(day) + rule.DurationSec
	if err := e.registry.recordTrigger(ctx, rule.ID, now, day, runtime); err != nil {
		e.logger.Warn("failed to record rule trigger", "rule_id", rule.ID, "error", err)
	}

	e.logger.Info("automation rule triggered",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"node_id", int(rule.NodeID),
		"metric", rule.Metric,
		"value", value,
		"min", rule.Min,
		"duration_sec", rule.DurationSec,
		"today_runtime_sec", runtime,
	)
	return nil
}

// pendingOff is a scheduled auto-off. Its timer is only touched under e.mu.
type pendingOff struct {
	timer Timer
}

// scheduleOffLocked must be called with e.mu held.
func (e *Engine) scheduleOffLocked(node address.NodeID, d time.Duration) {
	e.cancelOffLocked(node)
	p := &pendingOff{}
	p.timer = e.clock.AfterFunc(d, func() { e.autoOff(node, p) })
	e.timers[node] = p
}

// cancelOffLocked must be called with e.mu held.
func (e *Engine) cancelOffLocked(node address.NodeID) {
	if p, ok := e.timers[node]; ok {
		p.timer.Stop()
		delete(e.timers, node)
	}
}

// autoOff ends an automatic run. It does nothing if a manual command took
// over the pump or another run replaced this one.
func (e *Engine) autoOff(node address.NodeID, self *pendingOff) {
	ctx := context.Background()

	e.mu.Lock()
	if e.timers[node] != self {
		e.mu.Unlock()
		return
	}
	delete(e.timers, node)
	prev := e.pumps[node]
	if prev.State != PumpOn || prev.Source != SourceAuto {
		e.mu.Unlock()
		return
	}
	st := PumpState{NodeID: node, State: PumpOff, Source: SourceAuto, UpdatedAt: e.clock.Now()}
	e.pumps[node] = st
	e.mu.Unlock()

	if err := e.publish(ctx, node, PumpOff); err != nil {
		e.logger.Warn("automatic pump off failed, retrying",
			"node_id", int(node),
			"retry_in", offRetryDelay.String(),
			"error", err,
		)
		e.mu.Lock()
		if cur := e.pumps[node]; cur == st {
			e.pumps[node] = prev
			e.scheduleOffLocked(node, offRetryDelay)
		}
		e.mu.Unlock()
		return
	}

	e.autoOffs.Add(1)
	e.savePumpState(ctx, st)
	e.logger.Info("automatic pump run finished", "node_id", int(node), "rule_id", prev.RuleID)
}

// publish sends command on the node's command topic and records the event.
func (e *Engine) publish(ctx context.Context, node address.NodeID, command string) error {
	if e.publisher == nil {
		return ErrMQTTUnavailable
	}
	topic, err := e.table.TopicFor(node, e.topic)
	if err != nil {
		return err
	}

	ev := gateway.CommandEvent{
		Node:    node,
		Command: command,
		Source:  gateway.SourceAutomation,
		Status:  gateway.CommandRequested,
		At:      e.clock.Now(),
	}
	pubErr := e.publisher.Publish(topic, []byte(command))
	if pubErr != nil {
		e.publishFailures.Add(1)
		ev.Status = gateway.CommandFailed
		ev.Error = pubErr.Error()
	}
	if e.recorder != nil {
		e.recorder.RecordCommand(ctx, ev)
	}
	if pubErr != nil {
		return fmt.Errorf("publishing %s to %s: %w", command, topic, pubErr)
	}
	return nil
}

// OnCommand tracks manual pump commands. API commands always take over the
// pump; broker commands only when they change its state, so the echo of
// the engine's own publishes is ignored.
func (e *Engine) OnCommand(ctx context.Context, ev gateway.CommandEvent) error {
	if ev.Source == gateway.SourceAutomation {
		return nil
	}
	if ev.Status != gateway.CommandSent && ev.Status != gateway.CommandRequested {
		return nil
	}
	command := strings.ToUpper(strings.TrimSpace(ev.Command))
	if command != PumpOn && command != PumpOff {
		return nil
	}
	if !e.table.Contains(ev.Node) {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = e.clock.Now()
	}

	e.mu.Lock()
	cur := e.pumpStateLocked(ev.Node)
	if ev.Source != gateway.SourceAPI && cur.State == command {
		e.mu.Unlock()
		return nil
	}
	e.cancelOffLocked(ev.Node)
	st := PumpState{NodeID: ev.Node, State: command, Source: SourceManual, UpdatedAt: at}
	e.pumps[ev.Node] = st
	e.mu.Unlock()

	if cur.Source == SourceAuto && cur.State == PumpOn {
		e.logger.Info("manual command took over automatic pump run",
			"node_id", int(ev.Node),
			"command", command,
			"source", ev.Source,
		)
	}
	if err := e.repo.SavePumpState(ctx, st); err != nil {
		return fmt.Errorf("saving pump state: %w", err)
	}
	return nil
}

// PumpState returns the last known state of a node's pump. Pumps with no
// recorded command are reported off.
func (e *Engine) PumpState(node address.NodeID) PumpState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pumpStateLocked(node)
}

// PumpStates returns the state of every configured node's pump.
func (e *Engine) PumpStates() []PumpState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]PumpState, 0, e.table.Len())
	for _, node := range e.table.Nodes() {
		out = append(out, e.pumpStateLocked(node))
	}
	return out
}

func (e *Engine) pumpStateLocked(node address.NodeID) PumpState {
	st, ok := e.pumps[node]
	if !ok {
		return PumpState{NodeID: node, State: PumpOff, Source: SourceManual}
	}
	st.ExpiresAt = cloneTime(st.ExpiresAt)
	return st
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Triggers:        e.triggers.Load(),
		AutoOffs:        e.autoOffs.Load(),
		PublishFailures: e.publishFailures.Load(),
	}
}

func (e *Engine) savePumpState(ctx context.Context, st PumpState) {
	if err := e.repo.SavePumpState(ctx, st); err != nil {
		e.logger.Warn("failed to save pump state", "node_id", int(st.NodeID), "error", err)
	}
}

// readingValue picks the rule's metric from a reading. NaN sensor values
// (a failed DHT read) never match.
func readingValue(m Metric, r gateway.Reading) (float64, bool) {
	var v float64
	switch m {
	case MetricSoil:
		v = float64(r.Telemetry.Soil)
	case MetricHumidity:
		v = float64(r.Telemetry.Humidity)
	case MetricTemperature:
		v = float64(r.Telemetry.Temperature)
	default:
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
