package errorqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore persists the queue in the error_queue and
// error_retry_log tables.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const itemColumns = `id, organization_id, error_type, severity, source_system,
	destination_system, record_id, record_type, error_data, error_message,
	error_code, retry_count, max_retries, next_retry_at, status,
	resolution_notes, resolved_by, resolved_at, context, created_at, updated_at`

// severityRank orders rows most-urgent-first in SQL, matching
// Severity.Rank.
const severityRank = `CASE severity
	WHEN 'CRITICAL' THEN 4 WHEN 'HIGH' THEN 3
	WHEN 'MEDIUM' THEN 2 WHEN 'LOW' THEN 1 ELSE 0 END`

func (s *PostgresStore) Insert(ctx context.Context, item *Item) error {
	query := `
		INSERT INTO error_queue (` + itemColumns + `)
		VALUES (:id, :organization_id, :error_type, :severity, :source_system,
			:destination_system, :record_id, :record_type, :error_data,
			:error_message, :error_code, :retry_count, :max_retries,
			:next_retry_at, :status, :resolution_notes, :resolved_by,
			:resolved_at, :context, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("insert error queue item: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Item, error) {
	var item Item
	query := `SELECT ` + itemColumns + ` FROM error_queue WHERE id = $1`
	if err := s.db.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
		}
		return nil, fmt.Errorf("get error queue item: %w", err)
	}
	return &item, nil
}

// Update writes the item only if its stored status still matches
// expectedStatus. The WHERE clause makes the status transition atomic
// without row locks.
func (s *PostgresStore) Update(ctx context.Context, item *Item, expectedStatus Status) error {
	query := `
		UPDATE error_queue SET
			error_data = $1, error_message = $2, retry_count = $3,
			next_retry_at = $4, status = $5, resolution_notes = $6,
			resolved_by = $7, resolved_at = $8, updated_at = $9
		WHERE id = $10 AND status = $11`
	res, err := s.db.ExecContext(ctx, query,
		item.ErrorData, item.ErrorMessage, item.RetryCount,
		item.NextRetryAt, item.Status, item.ResolutionNotes,
		item.ResolvedBy, item.ResolvedAt, item.UpdatedAt,
		item.ID, expectedStatus)
	if err != nil {
		return fmt.Errorf("update error queue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update error queue item: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from a lost race.
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM error_queue WHERE id = $1)`, item.ID); err != nil {
			return fmt.Errorf("update error queue item: %w", err)
		}
		if !exists {
			return fmt.Errorf("item %s: %w", item.ID, ErrItemNotFound)
		}
		return fmt.Errorf("item %s: expected %s: %w", item.ID, expectedStatus, ErrStatusConflict)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*Item, error) {
	var conditions []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.ErrorType != "" {
		add("error_type = $%d", filter.ErrorType)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}

	query := `SELECT ` + itemColumns + ` FROM error_queue`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var items []*Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list error queue items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ReadyForRetry(ctx context.Context, now time.Time, limit int) ([]*Item, error) {
	query := `
		SELECT ` + itemColumns + ` FROM error_queue
		WHERE status = $1 AND next_retry_at <= $2 AND retry_count < max_retries
		ORDER BY ` + severityRank + ` DESC, next_retry_at ASC`
	args := []any{StatusPending, now}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var items []*Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("select items ready for retry: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AppendRetryLog(ctx context.Context, log *RetryLog) error {
	query := `
		INSERT INTO error_retry_log (id, error_queue_id, retry_attempt,
			retry_at, retry_result, error_message, response_data, duration_ms)
		VALUES (:id, :error_queue_id, :retry_attempt, :retry_at,
			:retry_result, :error_message, :response_data, :duration_ms)`
	if _, err := s.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("insert retry log: %w", err)
	}
	return nil
}

func (s *PostgresStore) RetryLogs(ctx context.Context, itemID string) ([]*RetryLog, error) {
	var logs []*RetryLog
	query := `
		SELECT id, error_queue_id, retry_attempt, retry_at, retry_result,
			error_message, response_data, duration_ms
		FROM error_retry_log
		WHERE error_queue_id = $1
		ORDER BY retry_attempt ASC`
	if err := s.db.SelectContext(ctx, &logs, query, itemID); err != nil {
		return nil, fmt.Errorf("select retry logs: %w", err)
	}
	return logs, nil
}

func (s *PostgresStore) Stats(ctx context.Context, organizationID string) (*Stats, error) {
	query := `
		SELECT status, error_type, severity, COUNT(*) AS n
		FROM error_queue`
	var args []any
	if organizationID != "" {
		query += " WHERE organization_id = $1"
		args = append(args, organizationID)
	}
	query += " GROUP BY status, error_type, severity"

	rows := []struct {
		Status    Status    `db:"status"`
		ErrorType ErrorType `db:"error_type"`
		Severity  Severity  `db:"severity"`
		N         int       `db:"n"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("aggregate error queue stats: %w", err)
	}

	stats := &Stats{
		ByStatus:   make(map[Status]int),
		ByType:     make(map[ErrorType]int),
		BySeverity: make(map[Severity]int),
	}
	for _, row := range rows {
		stats.Total += row.N
		stats.ByStatus[row.Status] += row.N
		stats.ByType[row.ErrorType] += row.N
		stats.BySeverity[row.Severity] += row.N
	}
	return stats, nil
}
