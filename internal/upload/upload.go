// Package upload validates user supplied images before they are stored.
package upload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/h2non/filetype"
)

const MaxImageSize = 2 << 20

var AllowedTypes = []string{"image/jpeg", "image/png", "image/jpg", "image/webp"}

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("file too large")
	ErrMalformed       = errors.New("malformed image data")
)

// Image is a validated upload. MimeType is the sniffed type, not the
// declared one.
type Image struct {
	Data     []byte
	MimeType string
}

// UserMessage returns the text shown to the user for a validation error.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedType):
		return "Only .jpeg, .jpg, .png, .webp formats are allowed!"
	case errors.Is(err, ErrTooLarge):
		return "File too large"
	case errors.Is(err, ErrMalformed):
		return "Invalid image"
	default:
		return ""
	}
}

// Validate checks the declared type against the allow-list, the size
// against MaxImageSize, and sniffs the content.
func Validate(declared string, data []byte) (Image, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if !slices.Contains(AllowedTypes, declared) {
		return Image{}, fmt.Errorf("%w: declared %q", ErrUnsupportedType, declared)
	}
	if len(data) > MaxImageSize {
		return Image{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	kind, err := filetype.Match(data)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	if !filetype.IsImage(data) || !slices.Contains(AllowedTypes, kind.MIME.Value) {
		return Image{}, fmt.Errorf("%w: detected %q", ErrUnsupportedType, kind.MIME.Value)
	}

	return Image{Data: data, MimeType: kind.MIME.Value}, nil
}

// Read reads at most MaxImageSize bytes from r and validates them.
func Read(r io.Reader, declared string) (Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	return Validate(declared, data)
}

// ParseDataURI decodes a base64 data URI such as
// "data:image/png;base64,iVBOR..." and validates the image.
func ParseDataURI(uri string) (Image, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return Image{}, fmt.Errorf("%w: not a data URI", ErrMalformed)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	declared, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return Image{}, fmt.Errorf("%w: only base64 data URIs are supported", ErrMalformed)
	}

	// Reject before decoding so huge payloads are not materialized.
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageSize+2 {
		return Image{}, fmt.Errorf("%w: encoded payload of %d bytes", ErrTooLarge, len(payload))
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Validate(declared, data)
}
