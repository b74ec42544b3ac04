// Package imaging validates uploaded images and probes their dimensions.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

// MaxFileSize is the largest accepted upload.
const MaxFileSize int64 = 50 << 20

// AllowedContentTypes are the image types the vendor accepts.
var AllowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/jpg":  {},
	"image/webp": {},
}

var ErrUnsupportedType = errors.New("unsupported image type")

// Allowed reports whether contentType, ignoring parameters and case, is accepted.
func Allowed(contentType string) bool {
	_, ok := AllowedContentTypes[normalize(contentType)]
	return ok
}

// CheckType returns ErrUnsupportedType wrapped with the offending type.
func CheckType(contentType string) error {
	if Allowed(contentType) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
}

func normalize(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// Dimensions is what a header-only decode yields.
type Dimensions struct {
	Width  int
	Height int
	Format string
}

// Probe reads only the image header. The caller treats a failure as unknown
// dimensions, not as a rejected upload.
func Probe(data []byte) (Dimensions, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, fmt.Errorf("probe image: %w", err)
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}
