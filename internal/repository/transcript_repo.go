package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/liliang-cn/groundchat/internal/domain"
)

// TranscriptRepository archives finished sessions to SQLite
type TranscriptRepository struct {
	db *DB
}

// NewTranscriptRepository creates a new transcript repository
func NewTranscriptRepository(db *DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// Archive stores a session snapshot and its messages in one transaction.
// Archiving the same session twice replaces the earlier record.
func (r *TranscriptRepository) Archive(ctx context.Context, t *domain.Transcript) error {
	if t.ArchivedAt.IsZero() {
		t.ArchivedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE session_id = ?`, t.SessionID); err != nil {
		return fmt.Errorf("replace transcript: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcripts (session_id, user_id, reason, token_count, created_at, last_activity, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.SessionID, t.UserID, t.Reason, t.TokenCount, t.CreatedAt, t.LastActivity, t.ArchivedAt)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_messages (session_id, seq, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare messages: %w", err)
	}
	defer stmt.Close()

	for i, m := range t.Messages {
		if _, err := stmt.ExecContext(ctx, t.SessionID, i, string(m.Role), m.Content, m.Timestamp); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Get retrieves an archived transcript with its messages
func (r *TranscriptRepository) Get(ctx context.Context, sessionID string) (*domain.Transcript, error) {
	t := &domain.Transcript{}
	err := r.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, reason, token_count, created_at, last_activity, archived_at
		FROM transcripts WHERE session_id = ?
	`, sessionID).Scan(&t.SessionID, &t.UserID, &t.Reason, &t.TokenCount,
		&t.CreatedAt, &t.LastActivity, &t.ArchivedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM transcript_messages WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		t.Messages = append(t.Messages, m)
	}

	return t, rows.Err()
}

// Count returns the number of archived transcripts
func (r *TranscriptRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcripts`).Scan(&count)
	return count, err
}

// CountUserMessages returns the total number of archived user messages
func (r *TranscriptRepository) CountUserMessages(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcript_messages WHERE role = ?`, string(domain.RoleUser)).Scan(&count)
	return count, err
}

// TranscriptOf snapshots a session for archiving
func TranscriptOf(s *Session, reason EvictReason) *domain.Transcript {
	summary := s.Summary()
	return &domain.Transcript{
		SessionID:    summary.SessionID,
		UserID:       summary.UserID,
		Reason:       string(reason),
		TokenCount:   summary.TokenCount,
		CreatedAt:    summary.CreatedAt,
		LastActivity: summary.LastActivity,
		Messages:     s.Messages(),
	}
}
