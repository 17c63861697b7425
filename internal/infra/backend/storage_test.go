package backend

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/agrovision/cropscan/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadObjectStripsBucketPrefixFromEcho(t *testing.T) {
	var gotPath, gotType, gotUpsert string
	var gotBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotUpsert = r.Header.Get("x-upsert")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"Key":"ai-images/identify/2026/08/img.jpg"}`))
	})

	info, err := c.UploadObject(context.Background(), "ai-images", "identify/2026/08/img.jpg", []byte("jpeg bytes"), "image/jpeg")

	require.NoError(t, err)
	assert.Equal(t, "/storage/v1/object/ai-images/identify/2026/08/img.jpg", gotPath)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, "true", gotUpsert)
	assert.Equal(t, []byte("jpeg bytes"), gotBody)

	assert.Equal(t, "identify/2026/08/img.jpg", info.Key)
	assert.Contains(t, info.URL, "/storage/v1/object/public/ai-images/identify/2026/08/img.jpg")
}

func TestUploadObjectKeepsKeyWhenEchoIsOpaque(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	info, err := c.UploadObject(context.Background(), "ai-images", "identify/k.png", []byte("png"), "image/png")

	require.NoError(t, err)
	assert.Equal(t, "identify/k.png", info.Key)
}

func TestUploadObjectRejectedTokenIsUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid token"}`))
	})

	_, err := c.UploadObject(context.Background(), "ai-images", "identify/k.jpg", []byte("x"), "image/jpeg")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
