// Package qrcode generates PNG QR codes for checkout links so users can pay
// from another device. Thin wrapper around github.com/skip2/go-qrcode with
// input validation and a sensible default size.
package qrcode

import (
	"errors"
	"strings"

	skipqrcode "github.com/skip2/go-qrcode"
)

var (
	// ErrEmptyContent is returned when the content string is empty or only whitespace.
	ErrEmptyContent = errors.New("content cannot be empty")
	// ErrGenerateFailed is returned when QR code generation fails.
	ErrGenerateFailed = errors.New("failed to generate QR code")
)

// defaultSize is the image size in pixels used when no size is specified.
const defaultSize = 256

// Generate creates a PNG QR code image with the given content.
func Generate(content string, size int) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if size <= 0 {
		size = defaultSize
	}
	png, err := skipqrcode.Encode(content, skipqrcode.Medium, size)
	if err != nil {
		return nil, errors.Join(ErrGenerateFailed, err)
	}
	return png, nil
}
