package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/database"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Repository defines the interface for rule and pump state persistence.
// This abstraction enables unit testing without database dependencies.
type Repository interface {
	// Rule CRUD
	GetByID(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context) ([]Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id string) error

	// RecordTrigger stores a rule's trigger time and runtime counter.
	RecordTrigger(ctx context.Context, id string, at time.Time, day string, runtimeSec int) error

	// Pump state
	ListPumpStates(ctx context.Context) ([]PumpState, error)
	SavePumpState(ctx context.Context, st PumpState) error
}

// ruleColumns is the SELECT column list for rule queries.
const ruleColumns = `id, name, node_id, metric, min_value, duration_sec, cooldown_sec,
			max_daily_runtime_sec, enabled, time_windows, last_triggered_at,
			runtime_day, today_runtime_sec, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *database.DB
	now func() time.Time
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// GetByID retrieves a rule by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Rule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule by id: %w", err)
	}
	return rule, nil
}

// List retrieves all rules ordered by node then creation time.
func (r *SQLiteRepository) List(ctx context.Context) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules ORDER BY node_id, created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// Create inserts a new rule.
func (r *SQLiteRepository) Create(ctx context.Context, rule *Rule) error {
	windows, err := marshalWindows(rule.Windows)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO automation_rules (
			id, name, node_id, metric, min_value, duration_sec, cooldown_sec,
			max_daily_runtime_sec, enabled, time_windows, last_triggered_at,
			runtime_day, today_runtime_sec, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.Name,
		int(rule.NodeID),
		string(rule.Metric),
		rule.Min,
		rule.DurationSec,
		rule.CooldownSec,
		rule.MaxDailyRuntimeSec,
		boolToInt(rule.Enabled),
		windows,
		nullableTime(rule.LastTriggeredAt),
		nullableString(rule.RuntimeDay),
		rule.TodayRuntimeSec,
		formatTime(rule.CreatedAt),
		formatTime(rule.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update modifies a rule's definition. Trigger bookkeeping is left alone;
// it only changes through RecordTrigger.
func (r *SQLiteRepository) Update(ctx context.Context, rule *Rule) error {
	windows, err := marshalWindows(rule.Windows)
	if err != nil {
		return err
	}
	rule.UpdatedAt = r.now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE automation_rules SET
			name = ?, node_id = ?, metric = ?, min_value = ?, duration_sec = ?,
			cooldown_sec = ?, max_daily_runtime_sec = ?, enabled = ?,
			time_windows = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name,
		int(rule.NodeID),
		string(rule.Metric),
		rule.Min,
		rule.DurationSec,
		rule.CooldownSec,
		rule.MaxDailyRuntimeSec,
		boolToInt(rule.Enabled),
		windows,
		formatTime(rule.UpdatedAt),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes a rule by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM automation_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return expectOneRow(result)
}

// RecordTrigger stores when a rule last fired and its runtime for day.
func (r *SQLiteRepository) RecordTrigger(ctx context.Context, id string, at time.Time, day string, runtimeSec int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE automation_rules
		SET last_triggered_at = ?, runtime_day = ?, today_runtime_sec = ?
		WHERE id = ?`,
		formatTime(at), day, runtimeSec, id,
	)
	if err != nil {
		return fmt.Errorf("recording rule trigger: %w", err)
	}
	return expectOneRow(result)
}

// ListPumpStates returns the stored state of every pump.
func (r *SQLiteRepository) ListPumpStates(ctx context.Context) ([]PumpState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, state, source, rule_id, expires_at, updated_at
		FROM pump_state ORDER BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("querying pump state: %w", err)
	}
	defer rows.Close()

	var states []PumpState
	for rows.Next() {
		var (
			st              PumpState
			node            int
			ruleID, expires sql.NullString
			updated         string
		)
		if err := rows.Scan(&node, &st.State, &st.Source, &ruleID, &expires, &updated); err != nil {
			return nil, fmt.Errorf("scanning pump state: %w", err)
		}
		st.NodeID = address.NodeID(node)
		st.RuleID = ruleID.String
		if st.ExpiresAt, err = parseNullableTime(expires); err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		if st.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pump state: %w", err)
	}
	return states, nil
}

// SavePumpState upserts the state of one pump.
func (r *SQLiteRepository) SavePumpState(ctx context.Context, st PumpState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pump_state (node_id, state, source, rule_id, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			state = excluded.state, source = excluded.source, rule_id = excluded.rule_id,
			expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		int(st.NodeID), st.State, st.Source, nullableString(st.RuleID),
		nullableTime(st.ExpiresAt), formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving pump state for node %d: %w", st.NodeID, err)
	}
	return nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule             Rule
		node, enabled    int
		metric, windows  string
		lastTriggered    sql.NullString
		runtimeDay       sql.NullString
		created, updated string
	)
	err := row.Scan(
		&rule.ID, &rule.Name, &node, &metric, &rule.Min, &rule.DurationSec,
		&rule.CooldownSec, &rule.MaxDailyRuntimeSec, &enabled, &windows,
		&lastTriggered, &runtimeDay, &rule.TodayRuntimeSec, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	rule.NodeID = address.NodeID(node)
	rule.Metric = Metric(metric)
	rule.Enabled = enabled != 0
	rule.RuntimeDay = runtimeDay.String
	if err := json.Unmarshal([]byte(windows), &rule.Windows); err != nil {
		return nil, fmt.Errorf("unmarshalling time windows: %w", err)
	}
	if rule.LastTriggeredAt, err = parseNullableTime(lastTriggered); err != nil {
		return nil, fmt.Errorf("parsing last_triggered_at: %w", err)
	}
	if rule.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rule.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rule, nil
}

func marshalWindows(windows []TimeWindow) (string, error) {
	if windows == nil {
		windows = []TimeWindow{}
	}
	b, err := json.Marshal(windows)
	if err != nil {
		return "", fmt.Errorf("marshalling time windows: %w", err)
	}
	return string(b), nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError reports whether err is a primary key or unique
// constraint violation.
func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}
