package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrInvalidAuditLog marks records missing the fields audit_logs requires.
var ErrInvalidAuditLog = errors.New("shared: invalid audit log")

// AuditLog is one row of the audit trail. Closing runs write one per
// completed step with the run id as EntityID.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate checks the record before it is persisted.
func (l AuditLog) Validate() error {
	var missing []string
	if l.ActorID <= 0 {
		missing = append(missing, "actor_id")
	}
	if strings.TrimSpace(l.Action) == "" {
		missing = append(missing, "action")
	}
	if strings.TrimSpace(l.Entity) == "" {
		missing = append(missing, "entity")
	}
	if strings.TrimSpace(l.EntityID) == "" {
		missing = append(missing, "entity_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAuditLog, strings.Join(missing, ", "))
	}
	return nil
}

// Execer runs a statement. *pgxpool.Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db  Execer
	now func() time.Time
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db, now: time.Now}
}

const insertAuditLog = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// Record persists the log entry. A zero At is stamped with the current time.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	at := log.At
	if at.IsZero() {
		at = l.now()
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("shared: encode audit meta: %w", err)
	}
	if _, err := l.db.Exec(ctx, insertAuditLog, log.ActorID, log.Action, log.Entity, log.EntityID, meta, at.UTC()); err != nil {
		return fmt.Errorf("shared: insert audit log: %w", err)
	}
	return nil
}
