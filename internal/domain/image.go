package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Image is one uploaded screenshot.
type Image struct {
	Name string
	MIME string
	Data []byte
}

// ContentType returns the declared MIME type or sniffs it from the payload.
func (i Image) ContentType() string {
	if m := strings.TrimSpace(i.MIME); m != "" && m != "application/octet-stream" {
		return m
	}
	if len(i.Data) > 0 {
		return http.DetectContentType(i.Data)
	}
	return "application/octet-stream"
}

// Digest returns the hex sha256 of the image bytes.
func (i Image) Digest() string {
	sum := sha256.Sum256(i.Data)
	return hex.EncodeToString(sum[:])
}

// Extension maps the content type to a file extension for storage keys.
func (i Image) Extension() string {
	switch i.ContentType() {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
