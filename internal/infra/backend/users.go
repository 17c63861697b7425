package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agrovision/cropscan/internal/domain"
)

// Deployments disagree on which users column carries the auth identity;
// both spellings exist in the wild.
var userAuthColumns = []string{"auth_uid", "auth_id"}

// ResolveOwner maps an auth identity to the internal users-table id,
// creating the row when no mapping exists yet.
func (c *Client) ResolveOwner(ctx context.Context, authUID, name string) (string, error) {
	if authUID == "" {
		return "", errors.New("empty auth identity")
	}

	var lastErr error
	for _, col := range userAuthColumns {
		rows, err := c.QueryRecords(ctx, "users", Query{
			Filters: map[string]string{col: "eq." + authUID},
			Limit:   1,
		})
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				return "", err
			}
			// Unknown column on this deployment; try the next spelling.
			lastErr = err
			continue
		}
		if len(rows) > 0 {
			return decodeUserID(rows[0])
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return "", fmt.Errorf("query users: %w", lastErr)
	}

	row, ok, err := c.CreateRecord(ctx, "users", map[string]string{
		userAuthColumns[0]: authUID,
		"name":             name,
	})
	if err != nil {
		return "", fmt.Errorf("create user mapping: %w", err)
	}
	if ok {
		return decodeUserID(row)
	}

	// Echo suppressed; the row exists now, read it back.
	rows, err := c.QueryRecords(ctx, "users", Query{
		Filters: map[string]string{userAuthColumns[0]: "eq." + authUID},
		Limit:   1,
	})
	if err != nil {
		return "", fmt.Errorf("read back user mapping: %w", err)
	}
	if len(rows) == 0 {
		return "", errors.New("user mapping not found after create")
	}
	return decodeUserID(rows[0])
}

// decodeUserID tolerates both numeric and string ids.
func decodeUserID(row json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(row))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return "", fmt.Errorf("decode user row: %w", err)
	}

	switch id := m["id"].(type) {
	case string:
		if id == "" {
			return "", errors.New("user row with empty id")
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", errors.New("user row without id")
	}
}
