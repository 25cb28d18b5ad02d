package utils

import (
	"net/http"
	"path/filepath"
	"strings"
)

const (
	MimeTypeJPEG = "image/jpeg"
	MimeTypePNG  = "image/png"
	MimeTypeWebP = "image/webp"
	MimeTypeGIF  = "image/gif"
	MimeTypeBMP  = "image/bmp"
	MimeTypeTIFF = "image/tiff"
)

// DetectMimeType sniffs the first bytes of data and returns the image MIME
// type, or "" when the data is not a recognised image.
func DetectMimeType(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return MimeTypeJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return MimeTypePNG
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 &&
		data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P' {
		return MimeTypeWebP
	}
	// TIFF: II*\0 or MM\0*
	if (data[0] == 'I' && data[1] == 'I' && data[2] == 0x2A && data[3] == 0x00) ||
		(data[0] == 'M' && data[1] == 'M' && data[2] == 0x00 && data[3] == 0x2A) {
		return MimeTypeTIFF
	}
	// Fallback to net/http sniffing (GIF, BMP and friends).
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return ""
}

// MimeTypeFromExtension maps a file name or URL path to an image MIME type.
func MimeTypeFromExtension(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return MimeTypeJPEG
	case ".png":
		return MimeTypePNG
	case ".webp":
		return MimeTypeWebP
	case ".gif":
		return MimeTypeGIF
	case ".bmp":
		return MimeTypeBMP
	case ".tif", ".tiff":
		return MimeTypeTIFF
	}
	return ""
}

// NormalizeMimeType strips parameters from a Content-Type value.
func NormalizeMimeType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
