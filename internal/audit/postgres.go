//go:build postgres

package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLogger is a PostgreSQL-backed implementation of Logger.
type PostgresLogger struct {
	pool    *pgxpool.Pool
	ownPool bool // true if we created the pool (and should close it)
}

// NewPostgresLogger creates a new PostgreSQL-backed audit logger with its own
// connection pool.
func NewPostgresLogger(connStr string) (*PostgresLogger, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, err
	}
	return &PostgresLogger{pool: pool, ownPool: true}, nil
}

// NewPostgresLoggerFromPool creates a new PostgreSQL-backed audit logger using
// an existing pool.
func NewPostgresLoggerFromPool(pool *pgxpool.Pool) *PostgresLogger {
	return &PostgresLogger{pool: pool, ownPool: false}
}

// Close closes the database connection if we own it.
func (s *PostgresLogger) Close() error {
	if s.ownPool {
		s.pool.Close()
	}
	return nil
}

// Log records an audit event to the database.
func (s *PostgresLogger) Log(ctx context.Context, event *Event) error {
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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, timestamp, organization_id, actor, actor_type, action,
			resource_type, resource_id, result, detail, request_id, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		event.ID, event.Timestamp, event.OrganizationID,
		event.Actor, event.ActorType, event.Action,
		event.ResourceType, event.ResourceID, event.Result,
		nullStr(event.Detail),
		nullStr(event.RequestID),
		nullStr(event.IPAddress),
	)
	return err
}

// List retrieves audit events with optional filtering.
func (s *PostgresLogger) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	where := "1=1"
	args := []any{}
	argIdx := 1

	if opts.OrganizationID != "" {
		where += " AND organization_id = $" + strconv.Itoa(argIdx)
		args = append(args, opts.OrganizationID)
		argIdx++
	}
	if opts.Actor != "" {
		where += " AND actor = $" + strconv.Itoa(argIdx)
		args = append(args, opts.Actor)
		argIdx++
	}
	if opts.Action != "" {
		where += " AND action = $" + strconv.Itoa(argIdx)
		args = append(args, opts.Action)
		argIdx++
	}
	if opts.ResourceType != "" {
		where += " AND resource_type = $" + strconv.Itoa(argIdx)
		args = append(args, opts.ResourceType)
		argIdx++
	}
	if opts.Since != nil {
		where += " AND timestamp >= $" + strconv.Itoa(argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		where += " AND timestamp <= $" + strconv.Itoa(argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	query := "SELECT id, timestamp, organization_id, actor, actor_type, action, resource_type, resource_id, result, detail, request_id, ip_address FROM audit_logs WHERE " + where +
		" ORDER BY timestamp DESC LIMIT $" + strconv.Itoa(argIdx) + " OFFSET $" + strconv.Itoa(argIdx+1)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// GetByResource retrieves audit events for a specific resource.
func (s *PostgresLogger) GetByResource(ctx context.Context, resourceType, resourceID string) ([]*Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, organization_id, actor, actor_type, action, resource_type, resource_id,
			result, detail, request_id, ip_address
		FROM audit_logs
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY timestamp DESC
		LIMIT 1000`, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DeleteOlderThan removes events older than the given time.
func (s *PostgresLogger) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE timestamp < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanEvents(rows pgx.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var e Event
		var detail, requestID, ipAddress *string

		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.OrganizationID, &e.Actor, &e.ActorType,
			&e.Action, &e.ResourceType, &e.ResourceID, &e.Result,
			&detail, &requestID, &ipAddress,
		); err != nil {
			return nil, err
		}

		if detail != nil {
			e.Detail = *detail
		}
		if requestID != nil {
			e.RequestID = *requestID
		}
		if ipAddress != nil {
			e.IPAddress = *ipAddress
		}

		events = append(events, &e)
	}

	return events, rows.Err()
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
