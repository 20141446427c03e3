// Package sqlstore is the database/sql backend. It runs on SQLite
// (modernc.org/sqlite, pure Go) for single-node use and on PostgreSQL
// (lib/pq) for shared deployments. An audit append is one transaction that
// bumps the counter row, reads the chain head and inserts the entry. The
// counter update holds the row lock until commit, so concurrent writers in
// any number of processes extend one gapless chain.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/claimgate/internal/audit"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/store"
)

// Driver names accepted by Open
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout sorts lexically in time order
const timeLayout = "2006-01-02T15:04:05.000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_counter (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGINT PRIMARY KEY,
		id TEXT NOT NULL,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		entry TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS audit_log_id ON audit_log (id)`,
	`CREATE INDEX IF NOT EXISTS audit_log_actor ON audit_log (actor_id)`,
	`CREATE TABLE IF NOT EXISTS packets (
		id TEXT PRIMARY KEY,
		manuscript_id TEXT NOT NULL,
		verified_at TEXT NOT NULL,
		packet TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS packets_manuscript ON packets (manuscript_id)`,
	`CREATE TABLE IF NOT EXISTS lineage (
		packet_id TEXT PRIMARY KEY,
		entries TEXT NOT NULL
	)`,
}

// Store implements store.Backend on database/sql
type Store struct {
	db *sql.DB
}

var _ store.Backend = (*Store)(nil)

// Open connects with the given driver and creates the schema
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates missing tables
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, id string, link audit.Linker) (model.AuditEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_counter (name, value) VALUES ('audit', 0) ON CONFLICT (name) DO NOTHING`)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("init audit counter: %w", err)
	}
	var seq int64
	err = tx.QueryRowContext(ctx,
		`UPDATE audit_counter SET value = value + 1 WHERE name = 'audit' RETURNING value`).Scan(&seq)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("increment audit counter: %w", err)
	}

	// A retry of an entry that already committed; the rollback undoes the bump
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT entry FROM audit_log WHERE id = $1`, id).Scan(&raw)
	switch {
	case err == nil:
		return decodeEntry(raw)
	case !errors.Is(err, sql.ErrNoRows):
		return model.AuditEntry{}, fmt.Errorf("look up audit entry %s: %w", id, err)
	}

	prevHash := ""
	err = tx.QueryRowContext(ctx, `SELECT entry FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&raw)
	switch {
	case err == nil:
		head, err := decodeEntry(raw)
		if err != nil {
			return model.AuditEntry{}, err
		}
		prevHash = head.Hash
	case !errors.Is(err, sql.ErrNoRows):
		return model.AuditEntry{}, fmt.Errorf("read audit chain head: %w", err)
	}

	e, err := link(uint64(seq), prevHash)
	if err != nil {
		return model.AuditEntry{}, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("marshal audit entry: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (seq, id, ts, actor_id, event_type, subject, entry)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		int64(e.Sequence), e.ID, e.Timestamp.UTC().Format(timeLayout), e.ActorID, string(e.EventType), e.Subject, string(data))
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.AuditEntry{}, fmt.Errorf("commit audit entry: %w", err)
	}
	return e, nil
}

func decodeEntry(raw string) (model.AuditEntry, error) {
	var e model.AuditEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return model.AuditEntry{}, fmt.Errorf("decode audit entry: %w", err)
	}
	return e, nil
}

// buildAuditQuery renders the filter as SQL with numbered placeholders
func buildAuditQuery(f model.AuditFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, "seq > "+arg(int64(f.AfterSeq)))
	if f.ActorID != "" {
		where = append(where, "actor_id = "+arg(f.ActorID))
	}
	if f.Subject != "" {
		where = append(where, "subject = "+arg(f.Subject))
	}
	if len(f.EventTypes) > 0 {
		ph := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			ph[i] = arg(string(t))
		}
		where = append(where, "event_type IN ("+strings.Join(ph, ", ")+")")
	}
	if !f.From.IsZero() {
		where = append(where, "ts >= "+arg(f.From.UTC().Format(timeLayout)))
	}
	if !f.To.IsZero() {
		where = append(where, "ts < "+arg(f.To.UTC().Format(timeLayout)))
	}

	q := "SELECT entry FROM audit_log WHERE " + strings.Join(where, " AND ") + " ORDER BY seq"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	return q, args
}

func (s *Store) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	q, args := buildAuditQuery(filter)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		e, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Last(ctx context.Context) (model.AuditEntry, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT entry FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuditEntry{}, false, nil
	}
	if err != nil {
		return model.AuditEntry{}, false, fmt.Errorf("read last audit entry: %w", err)
	}
	e, err := decodeEntry(raw)
	return e, err == nil, err
}

func (s *Store) PutPacket(ctx context.Context, p model.VerificationPacket) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal packet: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO packets (id, manuscript_id, verified_at, packet)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.ManuscriptID, p.VerifiedAt.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return fmt.Errorf("insert packet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert packet: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrPacketExists, p.ID)
	}
	return nil
}

func (s *Store) GetPacket(ctx context.Context, id string) (model.VerificationPacket, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT packet FROM packets WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VerificationPacket{}, model.NewNotFound("packet", id)
	}
	if err != nil {
		return model.VerificationPacket{}, fmt.Errorf("get packet: %w", err)
	}
	var p model.VerificationPacket
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.VerificationPacket{}, fmt.Errorf("decode packet %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) ListPackets(ctx context.Context, manuscriptID string) ([]model.VerificationPacket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT packet FROM packets WHERE manuscript_id = $1`, manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("list packets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.VerificationPacket
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var p model.VerificationPacket
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode packet: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	store.SortPackets(out)
	return out, nil
}

func (s *Store) PutLineage(ctx context.Context, packetID string, entries []model.LineageEntry) error {
	if entries == nil {
		entries = []model.LineageEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal lineage: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lineage (packet_id, entries) VALUES ($1, $2)
		ON CONFLICT (packet_id) DO UPDATE SET entries = excluded.entries`,
		packetID, string(data))
	if err != nil {
		return fmt.Errorf("put lineage: %w", err)
	}
	return nil
}

func (s *Store) GetLineage(ctx context.Context, packetID string) ([]model.LineageEntry, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT entries FROM lineage WHERE packet_id = $1`, packetID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get lineage: %w", err)
	}
	var entries []model.LineageEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, false, fmt.Errorf("decode lineage for %s: %w", packetID, err)
	}
	return entries, true, nil
}
