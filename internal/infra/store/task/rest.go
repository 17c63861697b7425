// Package taskstore provides the two task-record backends: the hosted
// REST tables and the self-hosted Redis store.
package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agrovision/cropscan/internal/domain"
	"github.com/agrovision/cropscan/internal/infra/backend"
)

const tasksTable = "ai_tasks"

type restStore struct {
	client *backend.Client
}

func NewRESTStore(client *backend.Client) *restStore {
	return &restStore{client: client}
}

func (s *restStore) CreateTask(ctx context.Context, p domain.CreateTaskParams) (domain.Task, error) {
	fields := map[string]any{
		"user_id":  p.OwnerID,
		"file_id":  p.AssetKey,
		"file_url": p.AssetURL,
		"status":   string(domain.StatusPending),
	}
	if p.Description != "" {
		fields["description"] = p.Description
	}

	row, ok, err := s.client.CreateRecord(ctx, tasksTable, fields)
	if err != nil {
		return domain.Task{}, err
	}
	if ok {
		t, derr := decodeTask(row)
		if derr == nil && t.ID != "" {
			return t, nil
		}
	}

	// Write landed but the echo carried no usable row. Recover the id by
	// querying what was just inserted, newest first.
	rows, err := s.client.QueryRecords(ctx, tasksTable, backend.Query{
		Filters: map[string]string{
			"user_id": "eq." + p.OwnerID,
			"file_id": "eq." + p.AssetKey,
		},
		Order: "created_at.desc",
		Limit: 1,
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("recover created task: %w", err)
	}
	if len(rows) == 0 {
		return domain.Task{}, fmt.Errorf("created task not found for asset %s", p.AssetKey)
	}

	return decodeTask(rows[0])
}

func (s *restStore) TaskByID(ctx context.Context, id string) (domain.Task, error) {
	rows, err := s.client.QueryRecords(ctx, tasksTable, backend.Query{
		Filters: map[string]string{"id": "eq." + id},
		Limit:   1,
	})
	if err != nil {
		return domain.Task{}, err
	}
	if len(rows) == 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}

	return decodeTask(rows[0])
}

func (s *restStore) TasksByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Task, error) {
	rows, err := s.client.QueryRecords(ctx, tasksTable, backend.Query{
		Filters: map[string]string{"user_id": "eq." + ownerID},
		Order:   "created_at.desc",
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		t, err := decodeTask(row)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *restStore) MarkFailed(ctx context.Context, id, reason string) error {
	return s.client.UpdateRecord(ctx, tasksTable, id, map[string]any{
		"status":        string(domain.StatusFailed),
		"error_message": reason,
	})
}

// taskRow is the wire shape of an ai_tasks row. Ids arrive as strings or
// numbers depending on the deployment's schema, timestamps with or without
// an offset.
type taskRow struct {
	ID           any             `json:"id"`
	UserID       any             `json:"user_id"`
	FileID       string          `json:"file_id"`
	FileURL      string          `json:"file_url"`
	Description  string          `json:"description"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	ErrorMessage string          `json:"error_message"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	CompletedAt  string          `json:"completed_at"`
}

func decodeTask(row json.RawMessage) (domain.Task, error) {
	dec := json.NewDecoder(bytes.NewReader(row))
	dec.UseNumber()

	var r taskRow
	if err := dec.Decode(&r); err != nil {
		return domain.Task{}, fmt.Errorf("decode task row: %w", err)
	}

	t := domain.Task{
		ID:           idString(r.ID),
		OwnerID:      idString(r.UserID),
		AssetKey:     r.FileID,
		AssetURL:     r.FileURL,
		Description:  r.Description,
		Status:       domain.TaskStatus(r.Status),
		Result:       r.Result,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
	if r.CompletedAt != "" {
		done := parseTime(r.CompletedAt)
		t.CompletedAt = &done
	}

	return t, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
