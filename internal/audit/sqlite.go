//go:build sqlite

package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-less SQLite driver
)

// SQLiteLogger is a SQLite-backed implementation of Logger.
type SQLiteLogger struct {
	db *sql.DB
}

// NewSQLiteLogger creates a new SQLite-backed audit logger.
// It shares the same database as the main store.
func NewSQLiteLogger(dsn string) (*SQLiteLogger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteLogger{db: db}, nil
}

// NewSQLiteLoggerFromDB creates a new SQLite-backed audit logger using an
// existing DB connection.
func NewSQLiteLoggerFromDB(db *sql.DB) *SQLiteLogger {
	return &SQLiteLogger{db: db}
}

// Close closes the database connection.
func (s *SQLiteLogger) Close() error {
	return s.db.Close()
}

// Log records an audit event to the database.
func (s *SQLiteLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Result == "" {
		event.Result = ResultSuccess
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, timestamp, organization_id, actor, actor_type, action, resource_type, resource_id, result, detail, request_id, ip_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.Timestamp.Format(time.RFC3339Nano),
		event.OrganizationID,
		event.Actor,
		event.ActorType,
		event.Action,
		event.ResourceType,
		event.ResourceID,
		event.Result,
		sql.NullString{String: event.Detail, Valid: event.Detail != ""},
		sql.NullString{String: event.RequestID, Valid: event.RequestID != ""},
		sql.NullString{String: event.IPAddress, Valid: event.IPAddress != ""},
	)
	return err
}

// List retrieves audit events with optional filtering.
func (s *SQLiteLogger) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	where := "1=1"
	args := []any{}

	if opts.OrganizationID != "" {
		where += " AND organization_id = ?"
		args = append(args, opts.OrganizationID)
	}
	if opts.Actor != "" {
		where += " AND actor = ?"
		args = append(args, opts.Actor)
	}
	if opts.Action != "" {
		where += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.ResourceType != "" {
		where += " AND resource_type = ?"
		args = append(args, opts.ResourceType)
	}
	if opts.Since != nil {
		where += " AND timestamp >= ?"
		args = append(args, opts.Since.Format(time.RFC3339Nano))
	}
	if opts.Until != nil {
		where += " AND timestamp <= ?"
		args = append(args, opts.Until.Format(time.RFC3339Nano))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs WHERE " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	query := "SELECT id, timestamp, organization_id, actor, actor_type, action, resource_type, resource_id, result, detail, request_id, ip_address FROM audit_logs WHERE " + where + " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}

	return events, total, rows.Err()
}

// GetByResource retrieves audit events for a specific resource.
func (s *SQLiteLogger) GetByResource(ctx context.Context, resourceType, resourceID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, organization_id, actor, actor_type, action, resource_type, resource_id, result, detail, request_id, ip_address
		FROM audit_logs
		WHERE resource_type = ? AND resource_id = ?
		ORDER BY timestamp DESC
		LIMIT 1000`, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteOlderThan removes events older than the given time.
func (s *SQLiteLogger) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < ?`, before.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var e Event
	var timestamp string
	var detail, requestID, ipAddress sql.NullString

	if err := rows.Scan(&e.ID, &timestamp, &e.OrganizationID, &e.Actor, &e.ActorType, &e.Action, &e.ResourceType, &e.ResourceID, &e.Result, &detail, &requestID, &ipAddress); err != nil {
		return nil, err
	}

	e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	e.Detail = detail.String
	e.RequestID = requestID.String
	e.IPAddress = ipAddress.String
	return &e, nil
}
