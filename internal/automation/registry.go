package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ImGhostCode/smart-garden/internal/address"
)

// Logger defines the logging interface used by the Registry and Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides rule management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache so readings are matched
// against rules without a database round trip.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	table   *address.Table
	cache   map[string]*Rule
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a rule registry. Rules must name a node in table.
func NewRegistry(repo Repository, table *address.Table) *Registry {
	return &Registry{
		repo:   repo,
		table:  table,
		cache:  make(map[string]*Rule),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all rules from the repository into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	rules, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Rule, len(rules))
	for i := range rules {
		r.cache[rules[i].ID] = rules[i].DeepCopy()
	}

	r.logger.Info("automation rules loaded", "count", len(rules))
	return nil
}

// GetRule retrieves a rule by ID. The returned rule is a copy.
func (r *Registry) GetRule(_ context.Context, id string) (*Rule, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrRuleNotFound
}

// ListRules returns copies of all rules, or of one node's rules when node
// is non-zero, sorted by node then creation time.
func (r *Registry) ListRules(_ context.Context, node address.NodeID) []Rule {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rules := make([]Rule, 0, len(r.cache))
	for _, rule := range r.cache {
		if node != 0 && rule.NodeID != node {
			continue
		}
		rules = append(rules, *rule.DeepCopy())
	}
	sortRules(rules)
	return rules
}

// enabledFor returns copies of the enabled rules of one node.
func (r *Registry) enabledFor(node address.NodeID) []Rule {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var rules []Rule
	for _, rule := range r.cache {
		if rule.Enabled && rule.NodeID == node {
			rules = append(rules, *rule.DeepCopy())
		}
	}
	sortRules(rules)
	return rules
}

func sortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].NodeID != rules[j].NodeID {
			return rules[i].NodeID < rules[j].NodeID
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

// CreateRule validates, persists, and caches a new rule.
func (r *Registry) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = GenerateID()
	}
	if rule.DurationSec == 0 {
		rule.DurationSec = DefaultDurationSec
	}

	if err := r.validate(rule); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("automation rule created", "id", rule.ID, "node_id", int(rule.NodeID), "metric", rule.Metric)
	return nil
}

// UpdateRule validates and persists a rule's definition. The trigger
// bookkeeping of the cached rule is kept.
func (r *Registry) UpdateRule(ctx context.Context, rule *Rule) error {
	if err := r.validate(rule); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[rule.ID]; ok {
		rule.LastTriggeredAt = cloneTime(cached.LastTriggeredAt)
		rule.RuntimeDay = cached.RuntimeDay
		rule.TodayRuntimeSec = cached.TodayRuntimeSec
		rule.CreatedAt = cached.CreatedAt
	}
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("automation rule updated", "id", rule.ID)
	return nil
}

// DeleteRule removes a rule from persistence and cache.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("automation rule deleted", "id", id)
	return nil
}

// RuleCount returns the number of cached rules.
func (r *Registry) RuleCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// recordTrigger stores a trigger and updates the cached counters.
func (r *Registry) recordTrigger(ctx context.Context, id string, at time.Time, day string, runtimeSec int) error {
	if err := r.repo.RecordTrigger(ctx, id, at, day, runtimeSec); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		t := at
		cached.LastTriggeredAt = &t
		cached.RuntimeDay = day
		cached.TodayRuntimeSec = runtimeSec
	}
	r.cacheMu.Unlock()
	return nil
}

func (r *Registry) validate(rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if r.table != nil && !r.table.Contains(rule.NodeID) {
		return fmt.Errorf("%w: node %d is not configured", ErrInvalidRule, rule.NodeID)
	}
	return nil
}
