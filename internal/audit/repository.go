package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Dialect selects placeholder and timestamp encoding.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// Repository writes audit entries to operator_audit.
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db, dialect: dialect}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry = prepare(entry, time.Now().UTC())

	if r.dialect == SQLite {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO operator_audit (
	id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
			nullableJSON(entry.Metadata), entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt.UnixMilli())
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO operator_audit (
	id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		nullableJSON(entry.Metadata), entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
