package identify

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// prepared is an upload-ready asset: possibly re-encoded bytes plus the
// extension and content type the storage key should carry.
type prepared struct {
	data        []byte
	ext         string
	contentType string
}

// prepareImage downscales images whose longest side exceeds maxDim and
// re-encodes them as JPEG. Bytes that do not decode as an image are passed
// through untouched; the backend rejects them with a proper failed task,
// which beats guessing here.
func prepareImage(data []byte, filename string, maxDim int) (prepared, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		ext = "jpg"
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return prepared{data: data, ext: ext, contentType: contentTypeFor(ext)}, nil
	}

	bounds := src.Bounds()
	if maxDim <= 0 || (bounds.Dx() <= maxDim && bounds.Dy() <= maxDim) {
		return prepared{data: data, ext: ext, contentType: contentTypeFor(ext)}, nil
	}

	resized := imaging.Fit(src, maxDim, maxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return prepared{}, fmt.Errorf("encode resized image: %w", err)
	}

	return prepared{data: buf.Bytes(), ext: "jpg", contentType: "image/jpeg"}, nil
}

func contentTypeFor(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// assetKey builds the storage key for an upload: date-scoped, with a
// millisecond timestamp and a random suffix so identical submissions
// never collide.
func assetKey(now time.Time, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("identify/%04d/%02d/%d_%s.%s",
		now.Year(), int(now.Month()), now.UnixMilli(), suffix, ext)
}
