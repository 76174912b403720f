package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/storage"
)

// CreateSession stores a new open session with its artifacts
func (s *Storage) CreateSession(ctx context.Context, session *models.UploadSession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if session.State == "" {
		session.State = models.SessionOpen
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO upload_sessions (token, repository_id, task_id, start_at, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.Token, session.RepositoryID, session.TaskID, session.Start.UnixNano(), session.State, session.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i, a := range session.Artifacts {
		if err := insertSessionArtifact(ctx, tx, session.Token, i, a); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSession retrieves a snapshot of the session
func (s *Storage) GetSession(ctx context.Context, token string) (*models.UploadSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	return loadSession(ctx, tx, token, true)
}

// AppendArtifact adds an artifact while now is before the session start
// Состояние и окно перечитываются под блокировкой транзакции
func (s *Storage) AppendArtifact(ctx context.Context, token, repositoryID string, now time.Time, upload models.PendingUpload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	session, err := loadSession(ctx, tx, token, false)
	if err != nil {
		return err
	}

	if session.RepositoryID != repositoryID || session.State != models.SessionOpen || !now.Before(session.Start) {
		return storage.ErrSessionClosed
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_session_artifacts WHERE token = ?`, token,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to count session artifacts: %w", err)
	}

	if err := insertSessionArtifact(ctx, tx, token, count, upload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ClaimSession moves the session from open to committing
func (s *Storage) ClaimSession(ctx context.Context, token string, now time.Time) (*models.UploadSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	session, err := loadSession(ctx, tx, token, true)
	if err != nil {
		return nil, err
	}

	if session.State == models.SessionCommitting {
		return nil, storage.ErrSessionCommitted
	}
	if now.Before(session.Start) {
		return nil, &storage.SessionOpenError{Start: session.Start}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE upload_sessions SET state = ? WHERE token = ?`, models.SessionCommitting, token,
	); err != nil {
		return nil, fmt.Errorf("failed to claim session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	session.State = models.SessionCommitting
	return session, nil
}

// ReleaseSession returns a claimed session to open state
func (s *Storage) ReleaseSession(ctx context.Context, token string) error {
	return s.execSession(ctx, `UPDATE upload_sessions SET state = ? WHERE token = ?`, models.SessionOpen, token)
}

// DeleteSession removes session and its artifacts
func (s *Storage) DeleteSession(ctx context.Context, token string) error {
	return s.execSession(ctx, `DELETE FROM upload_sessions WHERE token = ?`, token)
}

// ListSessions returns all sessions
func (s *Storage) ListSessions(ctx context.Context) ([]*models.UploadSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token FROM upload_sessions ORDER BY start_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		tokens = append(tokens, token)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	sessions := make([]*models.UploadSession, 0, len(tokens))
	for _, token := range tokens {
		session, err := s.GetSession(ctx, token)
		if errors.Is(err, storage.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *Storage) execSession(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrSessionNotFound
	}
	return nil
}

func loadSession(ctx context.Context, tx *sql.Tx, token string, withArtifacts bool) (*models.UploadSession, error) {
	session := &models.UploadSession{Token: token}
	var start, createdAt int64

	err := tx.QueryRowContext(ctx, `
		SELECT repository_id, task_id, start_at, state, created_at
		FROM upload_sessions WHERE token = ?
	`, token).Scan(&session.RepositoryID, &session.TaskID, &start, &session.State, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.Start = time.Unix(0, start)
	session.CreatedAt = unixToTime(createdAt)

	if !withArtifacts {
		return session, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT sha256, filename FROM upload_session_artifacts
		WHERE token = ? ORDER BY position
	`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to query session artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.PendingUpload
		if err := rows.Scan(&a.Sha256, &a.Filename); err != nil {
			return nil, fmt.Errorf("failed to scan session artifact: %w", err)
		}
		session.Artifacts = append(session.Artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return session, nil
}

// повторная загрузка того же файла в сессию заменяет запись
func insertSessionArtifact(ctx context.Context, tx *sql.Tx, token string, position int, a models.PendingUpload) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO upload_session_artifacts (token, sha256, filename, position)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token, filename) DO UPDATE SET sha256 = excluded.sha256
	`, token, a.Sha256, a.Filename, position)
	if err != nil {
		return fmt.Errorf("failed to insert session artifact: %w", err)
	}
	return nil
}
