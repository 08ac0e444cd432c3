package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/gateway"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/database"
)

// Logger is the logging interface used by the store.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Store implements node, reading and command persistence on SQLite.
//
// Thread Safety: safe for concurrent use. The control loop writes while the
// HTTP API reads.
type Store struct {
	db     *database.DB
	now    func() time.Time
	logger Logger
}

var _ gateway.Sink = (*Store)(nil)

// NewStore creates a store on an open, migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetLogger sets the logger for background work.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Seed inserts or refreshes one row per node in table. Nodes no longer in
// the table are left alone so their history survives.
func (s *Store) Seed(ctx context.Context, table *address.Table) error {
	now := formatTime(s.now())
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, p := range table.Pipes() {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO nodes (id, address, pipe, created_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET address = excluded.address, pipe = excluded.pipe`,
				int(p.Node), p.Address.String(), int(p.Number), now,
			)
			if err != nil {
				return fmt.Errorf("seeding node %d: %w", p.Node, err)
			}
		}
		return nil
	})
}

// OnReading stores a reading and updates the node's last-seen data.
func (s *Store) OnReading(ctx context.Context, r gateway.Reading) error {
	_, err := s.RecordReading(ctx, r)
	return err
}

// OnCommand appends a command outcome to the log.
func (s *Store) OnCommand(ctx context.Context, ev gateway.CommandEvent) error {
	_, err := s.RecordCommand(ctx, ev)
	return err
}

// RecordReading stores r and returns the stored row.
// Returns ErrNodeNotFound if the node was never seeded.
func (s *Store) RecordReading(ctx context.Context, r gateway.Reading) (Reading, error) {
	at := r.ReceivedAt
	if at.IsZero() {
		at = s.now()
	}
	rec := Reading{
		ID:          uuid.NewString(),
		NodeID:      int(r.Node),
		Temperature: finite(r.Telemetry.Temperature),
		Humidity:    finite(r.Telemetry.Humidity),
		LDR:         int(r.Telemetry.LDR),
		Soil:        int(r.Telemetry.Soil),
		ReceivedAt:  at.UTC().Truncate(time.Millisecond),
	}
	ts := formatTime(rec.ReceivedAt)

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE nodes
			SET last_seen_at = ?,
				first_seen_at = COALESCE(first_seen_at, ?),
				pipe = CASE WHEN ? > 0 THEN ? ELSE pipe END,
				reading_count = reading_count + 1
			WHERE id = ?`,
			ts, ts, int(r.Pipe), int(r.Pipe), rec.NodeID,
		)
		if err != nil {
			return fmt.Errorf("updating node %d: %w", rec.NodeID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", ErrNodeNotFound, rec.NodeID)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO readings (id, node_id, temperature, humidity, ldr, soil, received_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.NodeID, nullFloat(rec.Temperature), nullFloat(rec.Humidity), rec.LDR, rec.Soil, ts,
		)
		if err != nil {
			return fmt.Errorf("inserting reading: %w", err)
		}
		return nil
	})
	if err != nil {
		return Reading{}, err
	}
	return rec, nil
}

// RecordCommand appends ev to the command log.
func (s *Store) RecordCommand(ctx context.Context, ev gateway.CommandEvent) (CommandRecord, error) {
	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	rec := CommandRecord{
		ID:        uuid.NewString(),
		NodeID:    int(ev.Node),
		Command:   ev.Command,
		Source:    ev.Source,
		Status:    ev.Status,
		Error:     ev.Error,
		CreatedAt: at.UTC().Truncate(time.Millisecond),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_log (id, node_id, command, source, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.NodeID, rec.Command, rec.Source, rec.Status, nullString(rec.Error), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return CommandRecord{}, fmt.Errorf("inserting command: %w", err)
	}
	return rec, nil
}

// ListNodes returns all nodes ordered by id.
func (s *Store) ListNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, pipe, first_seen_at, last_seen_at, reading_count, created_at
		FROM nodes
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}
	return nodes, nil
}

// GetNode returns one node. Returns ErrNodeNotFound if it does not exist.
func (s *Store) GetNode(ctx context.Context, id int) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, pipe, first_seen_at, last_seen_at, reading_count, created_at
		FROM nodes
		WHERE id = ?`, id)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
		}
		return nil, err
	}
	return n, nil
}

// LatestReading returns the newest reading of a node.
func (s *Store) LatestReading(ctx context.Context, nodeID int) (*Reading, error) {
	if _, err := s.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, node_id, temperature, humidity, ldr, soil, received_at
		FROM readings
		WHERE node_id = ?
		ORDER BY received_at DESC
		LIMIT 1`, nodeID)
	r, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: node %d", ErrNoReadings, nodeID)
		}
		return nil, err
	}
	return r, nil
}

// Readings returns readings matching q, newest first.
func (s *Store) Readings(ctx context.Context, q ReadingQuery) ([]Reading, error) {
	limit, err := clampLimit(q.Limit, DefaultReadingLimit, MaxReadingLimit)
	if err != nil {
		return nil, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: to before from", ErrInvalidQuery)
	}

	var where []string
	var args []any
	if q.NodeID != 0 {
		where = append(where, "node_id = ?")
		args = append(args, q.NodeID)
	}
	if !q.From.IsZero() {
		where = append(where, "received_at >= ?")
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "received_at <= ?")
		args = append(args, formatTime(q.To))
	}

	query := `SELECT id, node_id, temperature, humidity, ldr, soil, received_at FROM readings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// Commands returns the command log, newest first. nodeID 0 means all nodes.
func (s *Store) Commands(ctx context.Context, nodeID, limit int) ([]CommandRecord, error) {
	limit, err := clampLimit(limit, DefaultCommandLimit, MaxCommandLimit)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, node_id, command, source, status, error, created_at FROM command_log`
	var args []any
	if nodeID != 0 {
		query += " WHERE node_id = ?"
		args = append(args, nodeID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	records := []CommandRecord{}
	for rows.Next() {
		var (
			rec     CommandRecord
			errText sql.NullString
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.NodeID, &rec.Command, &rec.Source, &rec.Status, &errText, &created); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		rec.Error = errText.String
		if rec.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parsing command time: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return records, nil
}

// PruneReadings deletes readings received before cutoff and returns how
// many were removed.
func (s *Store) PruneReadings(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM readings WHERE received_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned readings: %w", err)
	}
	return n, nil
}

// RunRetention prunes readings older than retention every interval until
// ctx is cancelled. The first prune runs immediately.
func (s *Store) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := s.PruneReadings(ctx, s.now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			s.logWarn("reading retention failed", "error", err)
		case n > 0:
			s.logInfo("pruned old readings", "count", n, "retention", retention.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var (
		n                   Node
		firstSeen, lastSeen sql.NullString
		created             string
	)
	if err := row.Scan(&n.ID, &n.Address, &n.Pipe, &firstSeen, &lastSeen, &n.ReadingCount, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning node: %w", err)
	}

	var err error
	if n.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing node created_at: %w", err)
	}
	if n.FirstSeenAt, err = parseNullTime(firstSeen); err != nil {
		return nil, fmt.Errorf("parsing node first_seen_at: %w", err)
	}
	if n.LastSeenAt, err = parseNullTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing node last_seen_at: %w", err)
	}
	return &n, nil
}

func scanReading(row rowScanner) (*Reading, error) {
	var (
		r           Reading
		temp, humid sql.NullFloat64
		received    string
	)
	if err := row.Scan(&r.ID, &r.NodeID, &temp, &humid, &r.LDR, &r.Soil, &received); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning reading: %w", err)
	}
	if temp.Valid {
		r.Temperature = &temp.Float64
	}
	if humid.Valid {
		r.Humidity = &humid.Float64
	}
	var err error
	if r.ReceivedAt, err = parseTime(received); err != nil {
		return nil, fmt.Errorf("parsing reading time: %w", err)
	}
	return &r, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func clampLimit(limit, def, maxLimit int) (int, error) {
	switch {
	case limit == 0:
		return def, nil
	case limit < 0 || limit > maxLimit:
		return 0, fmt.Errorf("%w: limit %d not in [1, %d]", ErrInvalidQuery, limit, maxLimit)
	default:
		return limit, nil
	}
}

// finite widens a sensor value, mapping NaN and Inf to nil.
func finite(v float32) *float64 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Store) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
