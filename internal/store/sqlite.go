// ABOUTME: SQLite implementation of the Store interface.
// ABOUTME: Owns schema creation and all SQL for passports and the audit log.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS passports (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			parent_id TEXT,
			root_id TEXT,
			depth INTEGER NOT NULL DEFAULT 0,
			scopes TEXT NOT NULL DEFAULT '[]',
			max_tool_calls INTEGER,
			max_cost_usd REAL,
			ttl_hours REAL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_passports_parent
			ON passports(parent_id);

		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			action TEXT NOT NULL,
			target_id TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_actor
			ON audit_log(actor_id);

		CREATE INDEX IF NOT EXISTS idx_audit_timestamp
			ON audit_log(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreatePassport stores a new passport.
func (s *SQLiteStore) CreatePassport(ctx context.Context, p *Passport) error {
	scopes, err := json.Marshal(p.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO passports (id, name, parent_id, root_id, depth, scopes,
			max_tool_calls, max_cost_usd, ttl_hours, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, nullString(p.ParentID), nullString(p.RootID), p.Depth,
		string(scopes), p.Budget.MaxToolCalls, p.Budget.MaxCostUSD,
		p.Budget.TTLHours, p.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicatePassport
		}
		return fmt.Errorf("inserting passport: %w", err)
	}
	return nil
}

// GetPassport retrieves a passport by ID.
func (s *SQLiteStore) GetPassport(ctx context.Context, id string) (*Passport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, parent_id, root_id, depth, scopes,
			max_tool_calls, max_cost_usd, ttl_hours, created_at
		FROM passports WHERE id = ?`, id)

	p, err := scanPassport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying passport: %w", err)
	}
	return p, nil
}

// ListChildren returns the direct children of a passport, oldest first.
func (s *SQLiteStore) ListChildren(ctx context.Context, parentID string) ([]*Passport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, parent_id, root_id, depth, scopes,
			max_tool_calls, max_cost_usd, ttl_hours, created_at
		FROM passports WHERE parent_id = ? ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("querying children: %w", err)
	}
	defer rows.Close()

	var out []*Passport
	for rows.Next() {
		p, err := scanPassport(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning passport: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AppendAudit records an audit entry.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, target_id, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ActorID, string(entry.Action), entry.TargetID,
		entry.Reason, entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// ListAudit returns audit entries matching the filter, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	query := `SELECT id, actor_id, action, target_id, reason, timestamp FROM audit_log`
	var conds []string
	var args []any

	if filter.ActorID != nil {
		conds = append(conds, "actor_id = ?")
		args = append(args, *filter.ActorID)
	}
	if filter.Action != nil {
		conds = append(conds, "action = ?")
		args = append(args, string(*filter.Action))
	}
	if filter.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var action string
		if err := rows.Scan(&e.ID, &e.ActorID, &action, &e.TargetID, &e.Reason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Action = AuditAction(action)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanPassport reads one passport row.
func scanPassport(row scanner) (*Passport, error) {
	var p Passport
	var parentID, rootID sql.NullString
	var scopes string
	var maxToolCalls sql.NullInt64
	var maxCostUSD, ttlHours sql.NullFloat64
	var createdAt time.Time

	err := row.Scan(&p.ID, &p.Name, &parentID, &rootID, &p.Depth, &scopes,
		&maxToolCalls, &maxCostUSD, &ttlHours, &createdAt)
	if err != nil {
		return nil, err
	}

	p.ParentID = parentID.String
	p.RootID = rootID.String
	p.CreatedAt = createdAt
	if err := json.Unmarshal([]byte(scopes), &p.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling scopes: %w", err)
	}
	if maxToolCalls.Valid {
		v := int(maxToolCalls.Int64)
		p.Budget.MaxToolCalls = &v
	}
	if maxCostUSD.Valid {
		v := maxCostUSD.Float64
		p.Budget.MaxCostUSD = &v
	}
	if ttlHours.Valid {
		v := ttlHours.Float64
		p.Budget.TTLHours = &v
	}
	return &p, nil
}

// nullString maps "" to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
