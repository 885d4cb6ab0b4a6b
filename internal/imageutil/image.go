// Package imageutil turns the image forms a caller may attach to a message
// into the base64 data URI the chat endpoint expects.
package imageutil

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"strings"
)

// ErrUnsupportedFormat is returned for bytes that are not JPEG, PNG, GIF or
// WebP.
var ErrUnsupportedFormat = errors.New("imageutil: unsupported image format")

const maxImageBytes = 20 << 20

// DetectMIME sniffs the image type from its leading magic bytes.
func DetectMIME(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte("\xFF\xD8")):
		return "image/jpeg", nil
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png", nil
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif", nil
	case bytes.HasPrefix(data, []byte("\x89JFIF")), bytes.HasPrefix(data, []byte("JFIF\x00")):
		return "image/jpeg", nil
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp", nil
	}
	return "", ErrUnsupportedFormat
}

// ToDataURI validates data and returns it as "data:<mime>;base64,<payload>".
func ToDataURI(data []byte) (string, error) {
	mime, err := DetectMIME(data)
	if err != nil {
		return "", err
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// IsDataURI reports whether s already is a data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// DecodeDataURI returns the payload bytes of a base64 data URI.
func DecodeDataURI(uri string) ([]byte, error) {
	if !IsDataURI(uri) {
		return nil, errors.New("imageutil: not a data URI")
	}
	_, payload, ok := strings.Cut(uri, ",")
	if !ok {
		return nil, errors.New("imageutil: data URI has no payload")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("imageutil: decode data URI: %w", err)
	}
	return raw, nil
}

// FromReader reads all of r. A reader that is also an io.Seeker is rewound
// afterwards so the caller can read it again.
func FromReader(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("imageutil: read: %w", err)
	}
	if len(raw) > maxImageBytes {
		return nil, fmt.Errorf("imageutil: image larger than %d bytes", maxImageBytes)
	}
	if s, ok := r.(io.Seeker); ok {
		_, _ = s.Seek(0, io.SeekStart)
	}
	return raw, nil
}

// FromFile reads the image file at path.
func FromFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imageutil: open: %w", err)
	}
	defer func() { _ = f.Close() }()
	return FromReader(f)
}

// Encode serializes img. format is "png", "gif" or "jpeg"; anything else
// encodes as JPEG.
func Encode(img image.Image, format string) ([]byte, error) {
	if img == nil {
		return nil, errors.New("imageutil: image must not be nil")
	}
	var buf bytes.Buffer
	var err error
	switch strings.ToLower(format) {
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpeg.DefaultQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("imageutil: encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Load resolves ref to a data URI. A data URI is decoded and re-encoded
// with the MIME type sniffed from its payload; anything else is read as a
// file path.
func Load(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("imageutil: empty image reference")
	}
	var (
		raw []byte
		err error
	)
	if IsDataURI(ref) {
		raw, err = DecodeDataURI(ref)
	} else {
		raw, err = FromFile(ref)
	}
	if err != nil {
		return "", err
	}
	if len(raw) > maxImageBytes {
		return "", fmt.Errorf("imageutil: image exceeds %d bytes", maxImageBytes)
	}
	return ToDataURI(raw)
}
