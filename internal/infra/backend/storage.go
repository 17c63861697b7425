package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type BlobInfo struct {
	Key string
	URL string
}

// UploadObject writes data into the storage bucket under key and returns
// the stored key plus a public URL for it. The request is authenticated
// with the session token; a rejected token surfaces as ErrUnauthorized
// for the retry wrapper to handle.
func (c *Client) UploadObject(ctx context.Context, bucket, key string, data []byte, contentType string) (BlobInfo, error) {
	u := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return BlobInfo{}, fmt.Errorf("new request: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer(true))
	req.Header.Set("x-upsert", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("upload %s: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("upload %s: read body: %w", key, err)
	}

	if err := classify(resp.StatusCode, body); err != nil {
		return BlobInfo{}, fmt.Errorf("upload %s: %w", key, err)
	}

	// The API may echo the stored key with the bucket prefix attached.
	storedKey := key
	var echo struct {
		Key string `json:"Key"`
	}
	if err := json.Unmarshal(body, &echo); err == nil && echo.Key != "" {
		storedKey = strings.TrimPrefix(echo.Key, bucket+"/")
	}

	return BlobInfo{
		Key: storedKey,
		URL: fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, storedKey),
	}, nil
}
