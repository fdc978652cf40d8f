// Package sqlite provides the durable backend for the storage ports.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/evanrel/capshare/internal/storage"
	"github.com/evanrel/capshare/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// Store implements storage.DelegationStore and storage.ObjectCatalog on a
// single SQLite database. Per-key atomicity comes from single-statement
// upserts and updates; SQLite serializes writers, which satisfies the
// linearizability requirement for a (subject, grantee) pair.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (or creates) the database under basePath and applies the schema.
func Open(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(basePath, "capshare.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(NORMAL)"+
		"&_pragma=wal_autocheckpoint(1000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connection pool - SQLite handles concurrent writes poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DBPath() string {
	return s.dbPath
}

// Put inserts or replaces the delegation for its (subjectID, grantee) key.
func (s *Store) Put(ctx context.Context, d types.Delegation) error {
	caps, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	revoked := 0
	if d.Revoked {
		revoked = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO delegations (subject_id, grantee, granter, capabilities, issued_at, expires_at, revoked)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id, grantee) DO UPDATE SET
		   granter = excluded.granter,
		   capabilities = excluded.capabilities,
		   issued_at = excluded.issued_at,
		   expires_at = excluded.expires_at,
		   revoked = excluded.revoked`,
		d.SubjectID, d.Grantee, d.Granter, string(caps),
		formatTime(d.IssuedAt), formatTime(d.ExpiresAt), revoked)
	return err
}

// Get returns the current delegation for the key, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, subjectID, grantee string) (types.Delegation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT subject_id, grantee, granter, capabilities, issued_at, expires_at, revoked
		 FROM delegations WHERE subject_id = ? AND grantee = ?`,
		subjectID, grantee)

	d, err := scanDelegation(row)
	if err == sql.ErrNoRows {
		return types.Delegation{}, storage.ErrNotFound
	}
	return d, err
}

// Revoke marks the current delegation revoked. The bool reports presence.
func (s *Store) Revoke(ctx context.Context, subjectID, grantee string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delegations SET revoked = 1 WHERE subject_id = ? AND grantee = ?`,
		subjectID, grantee)
	if err != nil {
		return false, err
	}

	// RowsAffected counts matched-and-updated rows; an already-revoked row
	// still matches, so idempotent revokes keep reporting presence.
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListActive returns non-revoked, unexpired delegations for the subject,
// ordered by IssuedAt ascending.
func (s *Store) ListActive(ctx context.Context, subjectID string, now time.Time) ([]types.Delegation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id, grantee, granter, capabilities, issued_at, expires_at, revoked
		 FROM delegations
		 WHERE subject_id = ? AND revoked = 0 AND expires_at > ?
		 ORDER BY issued_at`,
		subjectID, formatTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var active []types.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		active = append(active, d)
	}
	return active, rows.Err()
}

// PutObject registers a new object. Returns storage.ErrDuplicate if the ID is
// already registered.
func (s *Store) PutObject(ctx context.Context, obj types.ContentObject) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (id, owner, filename, uploaded_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		obj.ID, obj.Owner, obj.Filename, formatTime(obj.UploadedAt))
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrDuplicate
	}
	return nil
}

// GetObject returns the object with the given ID, or storage.ErrNotFound.
func (s *Store) GetObject(ctx context.Context, id string) (types.ContentObject, error) {
	var obj types.ContentObject
	var uploadedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner, filename, uploaded_at FROM objects WHERE id = ?`,
		id).Scan(&obj.ID, &obj.Owner, &obj.Filename, &uploadedAt)
	if err == sql.ErrNoRows {
		return types.ContentObject{}, storage.ErrNotFound
	}
	if err != nil {
		return types.ContentObject{}, err
	}

	obj.UploadedAt, err = parseTime(uploadedAt)
	if err != nil {
		return types.ContentObject{}, fmt.Errorf("parse uploaded_at for %s: %w", id, err)
	}
	return obj, nil
}

// ListByOwner returns the identity's objects ordered by UploadedAt ascending.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]types.ContentObject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, filename, uploaded_at FROM objects
		 WHERE owner = ? ORDER BY uploaded_at, id`,
		owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objs []types.ContentObject
	for rows.Next() {
		var obj types.ContentObject
		var uploadedAt string
		if err := rows.Scan(&obj.ID, &obj.Owner, &obj.Filename, &uploadedAt); err != nil {
			return nil, err
		}
		obj.UploadedAt, err = parseTime(uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("parse uploaded_at for %s: %w", obj.ID, err)
		}
		objs = append(objs, obj)
	}
	return objs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelegation(row scanner) (types.Delegation, error) {
	var d types.Delegation
	var caps, issuedAt, expiresAt string
	var revoked int

	err := row.Scan(&d.SubjectID, &d.Grantee, &d.Granter, &caps, &issuedAt, &expiresAt, &revoked)
	if err != nil {
		return d, err
	}

	if err := json.Unmarshal([]byte(caps), &d.Capabilities); err != nil {
		return d, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	if d.IssuedAt, err = parseTime(issuedAt); err != nil {
		return d, fmt.Errorf("parse issued_at: %w", err)
	}
	if d.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return d, fmt.Errorf("parse expires_at: %w", err)
	}
	d.Revoked = revoked != 0

	return d, nil
}

// formatTime renders timestamps as fixed-width RFC3339 UTC so string
// comparison in SQL matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
