package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/pymirror/internal/client/storage"
)

// SaveSession stores the upload session keyed by repository
func (s *Storage) SaveSession(ctx context.Context, session *storage.UploadSession) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		if bucket == nil {
			return fmt.Errorf("sessions bucket not found")
		}

		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		if err := bucket.Put([]byte(session.RepositoryID), data); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}

// GetSession returns the upload session of repository
func (s *Storage) GetSession(ctx context.Context, repositoryID string) (*storage.UploadSession, error) {
	var session *storage.UploadSession

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		if bucket == nil {
			return fmt.Errorf("sessions bucket not found")
		}

		data := bucket.Get([]byte(repositoryID))
		if data == nil {
			return storage.ErrSessionNotFound
		}

		session = &storage.UploadSession{}
		if err := json.Unmarshal(data, session); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

// DeleteSession forgets the upload session of repository
// Удаление отсутствующей сессии не ошибка
func (s *Storage) DeleteSession(ctx context.Context, repositoryID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		if bucket == nil {
			return fmt.Errorf("sessions bucket not found")
		}

		if err := bucket.Delete([]byte(repositoryID)); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}
