package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elbethel/academy/pkg/storage"
)

// DBLogger implements audit logging to the audit_events table
type DBLogger struct {
	db    storage.DBTX
	clock storage.Clock
}

// NewDBLogger creates a new database-based audit logger. The schema must
// already exist (storage.EnsureSchema).
func NewDBLogger(db storage.DBTX, clock storage.Clock) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if clock == nil {
		clock = storage.SystemClock
	}
	return &DBLogger{db: db, clock: clock}, nil
}

// WithTx returns a logger that writes inside tx
func (l *DBLogger) WithTx(tx *sql.Tx) *DBLogger {
	return &DBLogger{db: tx, clock: l.clock}
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = l.clock()
	}

	var metadata interface{}
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	query := `
		INSERT INTO audit_events (
			id, occurred_at, event_type, status,
			actor_id, actor_role, target_type, target_id,
			ip_address, user_agent, request_id,
			message, metadata
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13
		)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ID, event.OccurredAt, string(event.Type), string(event.Status),
		nullable(event.ActorID), nullable(event.ActorRole), nullable(string(event.TargetType)), nullable(event.TargetID),
		nullable(event.IPAddress), nullable(event.UserAgent), nullable(event.RequestID),
		nullable(event.Message), metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns matching events, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT
			id, occurred_at, event_type, status,
			actor_id, actor_role, target_type, target_id,
			ip_address, user_agent, request_id,
			message, metadata
		FROM audit_events
		WHERE 1=1
	`

	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Since != nil {
		query += " AND occurred_at >= " + arg(filter.Since.UTC())
	}
	if filter.Until != nil {
		query += " AND occurred_at <= " + arg(filter.Until.UTC())
	}
	if filter.ActorID != "" {
		query += " AND actor_id = " + arg(filter.ActorID)
	}
	if filter.TargetID != "" {
		query += " AND target_id = " + arg(filter.TargetID)
	}
	if filter.Status != "" {
		query += " AND status = " + arg(string(filter.Status))
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = arg(string(et))
		}
		query += " AND event_type IN (" + strings.Join(placeholders, ", ") + ")"
	}

	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = 100
	case limit > 1000:
		limit = 1000
	}
	query += " ORDER BY occurred_at DESC LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		var actorID, actorRole, targetType, targetID, ip, ua, requestID, message, metadata sql.NullString
		err := rows.Scan(
			&event.ID, &event.OccurredAt, &event.Type, &event.Status,
			&actorID, &actorRole, &targetType, &targetID,
			&ip, &ua, &requestID,
			&message, &metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.OccurredAt = event.OccurredAt.UTC()
		event.ActorID = actorID.String
		event.ActorRole = actorRole.String
		event.TargetType = TargetType(targetType.String)
		event.TargetID = targetID.String
		event.IPAddress = ip.String
		event.UserAgent = ua.String
		event.RequestID = requestID.String
		event.Message = message.String

		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

// Reclaim deletes events older than retention and returns how many were removed
func (l *DBLogger) Reclaim(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := l.clock().Add(-retention)
	result, err := l.db.ExecContext(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim audit events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Close is a no-op; the database handle is shared
func (l *DBLogger) Close() error {
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
