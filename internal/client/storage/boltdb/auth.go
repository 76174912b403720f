package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/pymirror/internal/client/storage"
)

// ключ bucketMeta с URL сервера последнего логина
var currentServerKey = []byte("current_server")

// SaveAuth сохраняет токен под auth.ServerURL и делает сервер текущим
func (s *Storage) SaveAuth(ctx context.Context, auth *storage.AuthData) error {
	if auth.ServerURL == "" {
		return fmt.Errorf("auth data without server url")
	}

	data, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("failed to marshal auth data: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketAuth).Put([]byte(auth.ServerURL), data); err != nil {
			return fmt.Errorf("failed to save auth data: %w", err)
		}
		if err := tx.Bucket(bucketMeta).Put(currentServerKey, []byte(auth.ServerURL)); err != nil {
			return fmt.Errorf("failed to save current server: %w", err)
		}
		return nil
	})
}

// GetAuth возвращает токен для serverURL
func (s *Storage) GetAuth(ctx context.Context, serverURL string) (*storage.AuthData, error) {
	var auth *storage.AuthData
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		auth, err = getAuth(tx, []byte(serverURL))
		return err
	})
	if err != nil {
		return nil, err
	}
	return auth, nil
}

// CurrentAuth возвращает токен последнего логина
func (s *Storage) CurrentAuth(ctx context.Context) (*storage.AuthData, error) {
	var auth *storage.AuthData
	err := s.db.View(func(tx *bbolt.Tx) error {
		current := tx.Bucket(bucketMeta).Get(currentServerKey)
		if current == nil {
			return storage.ErrAuthNotFound
		}
		var err error
		auth, err = getAuth(tx, current)
		return err
	})
	if err != nil {
		return nil, err
	}
	return auth, nil
}

// ListAuth возвращает все сохраненные логины, отсортированные по URL сервера
func (s *Storage) ListAuth(ctx context.Context) ([]*storage.AuthData, error) {
	var logins []*storage.AuthData
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAuth).ForEach(func(k, v []byte) error {
			auth := &storage.AuthData{}
			if err := json.Unmarshal(v, auth); err != nil {
				return fmt.Errorf("failed to unmarshal auth data for %s: %w", k, err)
			}
			logins = append(logins, auth)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return logins, nil
}

// DeleteAuth удаляет токен serverURL (logout).
// Если сервер был текущим, текущего логина больше нет.
func (s *Storage) DeleteAuth(ctx context.Context, serverURL string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAuth)
		key := []byte(serverURL)
		if bucket.Get(key) == nil {
			return storage.ErrAuthNotFound
		}
		if err := bucket.Delete(key); err != nil {
			return fmt.Errorf("failed to delete auth data: %w", err)
		}

		meta := tx.Bucket(bucketMeta)
		if string(meta.Get(currentServerKey)) == serverURL {
			if err := meta.Delete(currentServerKey); err != nil {
				return fmt.Errorf("failed to reset current server: %w", err)
			}
		}
		return nil
	})
}

func getAuth(tx *bbolt.Tx, serverURL []byte) (*storage.AuthData, error) {
	data := tx.Bucket(bucketAuth).Get(serverURL)
	if data == nil {
		return nil, storage.ErrAuthNotFound
	}

	auth := &storage.AuthData{}
	if err := json.Unmarshal(data, auth); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auth data: %w", err)
	}
	return auth, nil
}
