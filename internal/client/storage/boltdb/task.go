package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/iudanet/pymirror/internal/client/storage"
)

// SaveTask stores or updates a task record
// После записи в bucket остаются только storage.MaxRecentTasks самых новых задач
func (s *Storage) SaveTask(ctx context.Context, task *storage.TaskRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)
		if bucket == nil {
			return fmt.Errorf("tasks bucket not found")
		}

		// время первой отправки сохраняется при обновлении состояния
		if existing := bucket.Get([]byte(task.ID)); existing != nil {
			var prev storage.TaskRecord
			if err := json.Unmarshal(existing, &prev); err == nil && !prev.SubmittedAt.IsZero() {
				task.SubmittedAt = prev.SubmittedAt
			}
		}

		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		if err := bucket.Put([]byte(task.ID), data); err != nil {
			return fmt.Errorf("failed to save task: %w", err)
		}

		tasks, err := readTasks(bucket)
		if err != nil {
			return err
		}
		for _, old := range tasks[min(len(tasks), storage.MaxRecentTasks):] {
			if err := bucket.Delete([]byte(old.ID)); err != nil {
				return fmt.Errorf("failed to trim tasks: %w", err)
			}
		}
		return nil
	})
}

// ListTasks returns remembered tasks, newest first
func (s *Storage) ListTasks(ctx context.Context) ([]*storage.TaskRecord, error) {
	var tasks []*storage.TaskRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)
		if bucket == nil {
			return fmt.Errorf("tasks bucket not found")
		}

		var err error
		tasks, err = readTasks(bucket)
		return err
	})
	if err != nil {
		return nil, err
	}

	return tasks, nil
}

func readTasks(bucket *bbolt.Bucket) ([]*storage.TaskRecord, error) {
	var tasks []*storage.TaskRecord
	err := bucket.ForEach(func(k, v []byte) error {
		var task storage.TaskRecord
		if err := json.Unmarshal(v, &task); err != nil {
			return fmt.Errorf("failed to unmarshal task %s: %w", k, err)
		}
		tasks = append(tasks, &task)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].SubmittedAt.Equal(tasks[j].SubmittedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].SubmittedAt.After(tasks[j].SubmittedAt)
	})
	return tasks, nil
}
