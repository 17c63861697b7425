package identify

import (
	"bytes"
	"image/color"
	"regexp"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 40, G: 120, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestPrepareImageDownscalesOversized(t *testing.T) {
	data := encodeTestImage(t, 3000, 1500)

	prep, err := prepareImage(data, "field.png", 1600)

	require.NoError(t, err)
	assert.Equal(t, "jpg", prep.ext, "resized output is re-encoded as jpeg")
	assert.Equal(t, "image/jpeg", prep.contentType)

	decoded, err := imaging.Decode(bytes.NewReader(prep.data))
	require.NoError(t, err)
	assert.Equal(t, 1600, decoded.Bounds().Dx())
	assert.Equal(t, 800, decoded.Bounds().Dy(), "aspect ratio is preserved")
}

func TestPrepareImageKeepsSmallImagesVerbatim(t *testing.T) {
	data := encodeTestImage(t, 640, 480)

	prep, err := prepareImage(data, "leaf.png", 1600)

	require.NoError(t, err)
	assert.Equal(t, data, prep.data)
	assert.Equal(t, "png", prep.ext)
	assert.Equal(t, "image/png", prep.contentType)
}

func TestPrepareImagePassesThroughUndecodableBytes(t *testing.T) {
	data := []byte("definitely not an image")

	prep, err := prepareImage(data, "broken.webp", 1600)

	require.NoError(t, err)
	assert.Equal(t, data, prep.data)
	assert.Equal(t, "webp", prep.ext)
	assert.Equal(t, "image/webp", prep.contentType)
}

func TestPrepareImageDefaultsExtension(t *testing.T) {
	prep, err := prepareImage([]byte("x"), "no-extension", 1600)

	require.NoError(t, err)
	assert.Equal(t, "jpg", prep.ext)
}

func TestAssetKeyShape(t *testing.T) {
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)

	key := assetKey(now, "jpg")

	assert.Regexp(t, regexp.MustCompile(`^identify/2026/08/\d+_[0-9a-f]{12}\.jpg$`), key)
}

func TestAssetKeyNeverCollides(t *testing.T) {
	now := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		key := assetKey(now, "jpg")
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}
