package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Query describes a REST table read. Filter values carry their operator
// prefix ("eq.42", "ilike.*rust*") as the API expects.
type Query struct {
	Filters map[string]string
	Order   string
	Limit   int
	Offset  int
}

func (q Query) values() url.Values {
	v := url.Values{}
	for k, f := range q.Filters {
		v.Set(k, f)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

// CreateRecord inserts fields into table and returns the created row.
// ok is false when the write succeeded but the API suppressed the echo;
// the caller has to recover the row with a follow-up query.
func (c *Client) CreateRecord(ctx context.Context, table string, fields any) (row json.RawMessage, ok bool, err error) {
	hdr := http.Header{}
	hdr.Set("Prefer", "return=representation")

	data, err := c.do(ctx, http.MethodPost, "/rest/v1/"+table, nil, fields, true, hdr)
	if err != nil {
		return nil, false, err
	}

	row, ok = normalizeEcho(data)
	return row, ok, nil
}

// QueryRecords reads rows from table. Reads go out with the session token
// when one is available so row-level security sees the right user.
func (c *Client) QueryRecords(ctx context.Context, table string, q Query) ([]json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, "/rest/v1/"+table, q.values(), nil, true, nil)
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("query %s: decode rows: %w", table, err)
	}
	return rows, nil
}

// UpdateRecord patches the row with the given id.
func (c *Client) UpdateRecord(ctx context.Context, table, id string, fields any) error {
	q := url.Values{}
	q.Set("id", "eq."+id)

	_, err := c.do(ctx, http.MethodPatch, "/rest/v1/"+table, q, fields, true, nil)
	return err
}

// normalizeEcho collapses the insert-echo shapes the API is known to
// produce into a single row: a bare object, an array of one, or either of
// those nested under "data". ok is false for an empty array or anything
// that carries no row.
func normalizeEcho(body []byte) (json.RawMessage, bool) {
	if len(body) == 0 {
		return nil, false
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err == nil {
		if len(arr) == 0 {
			return nil, false
		}
		return arr[0], true
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || len(obj) == 0 {
		return nil, false
	}

	if nested, has := obj["data"]; has {
		if _, alsoID := obj["id"]; !alsoID {
			return normalizeEcho(nested)
		}
	}

	return json.RawMessage(body), true
}
