package taskstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/agrovision/cropscan/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *redisStore {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) CreateTask(ctx context.Context, p domain.CreateTaskParams) (domain.Task, error) {
	now := time.Now()
	t := domain.Task{
		ID:          uuid.NewString(),
		OwnerID:     p.OwnerID,
		AssetKey:    p.AssetKey,
		AssetURL:    p.AssetURL,
		Description: p.Description,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	pipe := s.rdb.TxPipeline()

	pipe.HSet(ctx, taskKey(t.ID), map[string]interface{}{
		"id":            t.ID,
		"user_id":       t.OwnerID,
		"file_id":       t.AssetKey,
		"file_url":      t.AssetURL,
		"description":   t.Description,
		"status":        string(t.Status),
		"result":        "",
		"error_message": "",
		"created_at":    t.CreatedAt.UnixNano(),
		"updated_at":    t.UpdatedAt.UnixNano(),
		"completed_at":  int64(0),
	})

	pipe.ZAdd(ctx, ownerIndexKey(t.OwnerID), redis.Z{
		Score:  float64(t.CreatedAt.UnixNano()),
		Member: t.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Task{}, fmt.Errorf("redis pipeline CreateTask: %w", err)
	}

	return t, nil
}

func (s *redisStore) TaskByID(ctx context.Context, id string) (domain.Task, error) {
	res, err := s.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return domain.Task{}, fmt.Errorf("redis HGetAll: %w", err)
	}
	if len(res) == 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}

	return taskFromHash(id, res), nil
}

func (s *redisStore) TasksByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 20
	}

	ids, err := s.rdb.ZRevRange(ctx, ownerIndexKey(ownerID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZRevRange: %w", err)
	}

	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.TaskByID(ctx, id)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *redisStore) MarkFailed(ctx context.Context, id, reason string) error {
	now := time.Now().UnixNano()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, taskKey(id), "status", string(domain.StatusFailed))
	pipe.HSet(ctx, taskKey(id), "error_message", reason)
	pipe.HSet(ctx, taskKey(id), "updated_at", now)
	pipe.HSet(ctx, taskKey(id), "completed_at", now)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis MarkFailed: %w", err)
	}
	return nil
}

func taskFromHash(id string, res map[string]string) domain.Task {
	t := domain.Task{
		ID:           id,
		OwnerID:      res["user_id"],
		AssetKey:     res["file_id"],
		AssetURL:     res["file_url"],
		Description:  res["description"],
		Status:       domain.TaskStatus(res["status"]),
		ErrorMessage: res["error_message"],
	}

	if v := res["result"]; v != "" {
		t.Result = []byte(v)
	}

	t.CreatedAt = nanoTime(res["created_at"])
	t.UpdatedAt = nanoTime(res["updated_at"])
	if done := nanoTime(res["completed_at"]); !done.IsZero() {
		t.CompletedAt = &done
	}

	return t
}

func nanoTime(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func taskKey(id string) string {
	return "task:" + id
}

func ownerIndexKey(ownerID string) string {
	return "tasks:by_owner:" + ownerID
}
