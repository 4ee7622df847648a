package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Querier is the subset of database operations the recorder needs. Both
// *sql.DB and *sql.Tx satisfy it; privileged mutations pass their open
// transaction so the entry commits or rolls back with the mutation.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Recorder appends and reads audit log entries in PostgreSQL
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a new audit recorder and ensures its table exists
func NewRecorder(db *sql.DB) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	r := &Recorder{db: db}
	if err := r.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_log_entries table: %w", err)
	}

	return r, nil
}

// ensureTable creates the audit_log_entries table if it doesn't exist
func (r *Recorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log_entries (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		action VARCHAR(100) NOT NULL,
		target_type VARCHAR(50) NOT NULL,
		target_id VARCHAR(255) NOT NULL,
		details JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_created_at ON audit_log_entries(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_log_entries(action);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_user_id ON audit_log_entries(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_target ON audit_log_entries(target_type, target_id);
	`

	_, err := r.db.Exec(query)
	return err
}

// Record appends an entry through q. Callers recording alongside a privileged
// mutation must pass the mutation's transaction; a failed insert then rolls
// back the mutation too, so no privileged change exists unaudited.
func (r *Recorder) Record(ctx context.Context, q Querier, entry *Entry) error {
	if !entry.Action.Valid() {
		return fmt.Errorf("unknown audit action: %s", entry.Action)
	}

	var detailsJSON []byte
	var err error
	if entry.Details != nil {
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log_entries (user_id, action, target_type, target_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err = q.QueryRowContext(ctx, query,
		entry.UserID, entry.Action, entry.TargetType, entry.TargetID, detailsJSON, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// List returns a page of entries matching the filter, newest first,
// together with pagination metadata.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]*Entry, *Pagination, error) {
	filter.Normalize()

	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if len(filter.Actions) > 0 {
		where += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		actionStrs := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actionStrs[i] = string(a)
		}
		args = append(args, pq.Array(actionStrs))
		argCount++
	}

	if filter.UserID != nil {
		where += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.TargetType != "" {
		where += fmt.Sprintf(" AND target_type = $%d", argCount)
		args = append(args, string(filter.TargetType))
		argCount++
	}

	if filter.TargetID != "" {
		where += fmt.Sprintf(" AND target_id = $%d", argCount)
		args = append(args, filter.TargetID)
		argCount++
	}

	if filter.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.From)
		argCount++
	}

	if filter.To != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.To)
		argCount++
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM audit_log_entries" + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `
		SELECT id, user_id, action, target_type, target_id, details, created_at
		FROM audit_log_entries` + where
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, filter.Limit, filter.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}
		var detailsJSON []byte
		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.Action, &entry.TargetType,
			&entry.TargetID, &detailsJSON, &entry.CreatedAt,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	pages := int((total + int64(filter.Limit) - 1) / int64(filter.Limit))
	pagination := &Pagination{
		Total: total,
		Page:  filter.Page,
		Limit: filter.Limit,
		Pages: pages,
	}

	return entries, pagination, nil
}
