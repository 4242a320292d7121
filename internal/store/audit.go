package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
)

// --- Audit Operations ---

// WriteAudit appends a decision record to the audit log.
func (s *Store) WriteAudit(ctx context.Context, action, inputsHash, outcome, taskID, details string, now time.Time) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  stamp(now),
	}

	_, err := s.exec(ctx,
		`INSERT INTO audit_log (id, action, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.InputsHash, entry.Outcome, nullString(entry.TaskID), entry.Details, entry.Timestamp,
	)
	if err != nil {
		return nil, ranking.Storage("insert audit entry", err)
	}
	return entry, nil
}

// ListAudit returns audit entries newest first. An empty taskID lists every entry.
func (s *Store) ListAudit(ctx context.Context, taskID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, action, inputs_hash, outcome, task_id, details, timestamp FROM audit_log`
	var args []any
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY timestamp DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, ranking.Storage("query audit log", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var (
			e       models.AuditEntry
			task    sql.NullString
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &task, &details, &e.Timestamp); err != nil {
			return nil, ranking.Storage("scan audit entry", err)
		}
		e.TaskID = task.String
		e.Details = details.String
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ranking.Storage("iterate audit log", err)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
