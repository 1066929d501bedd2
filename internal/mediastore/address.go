// Package mediastore stores attachment bytes on disk addressed by their SHA-256.
package mediastore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultMimeType is used when neither the filename nor the content identify the type.
	DefaultMimeType = "application/octet-stream"
	// DefaultExt is the extension stored for unidentified content.
	DefaultExt = "bin"

	chunkSize = 1 << 20
	sniffSize = 3072
)

// Address streams r through SHA-256 and returns the hex digest and byte count.
func Address(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, chunkSize))
	if err != nil {
		return "", n, fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// RelativePath returns the fan-out path media/<h[0:2]>/<h[2:4]>/<h>.<ext>.
// It always uses forward slashes; the path is embedded in portable manifests.
func RelativePath(hash, ext string) string {
	hash = strings.ToLower(hash)
	ext = normalizeExt(ext)
	if ext == "" {
		ext = DefaultExt
	}
	a, b := "00", "00"
	if len(hash) >= 4 {
		a, b = hash[0:2], hash[2:4]
	}
	return path.Join("media", a, b, hash+"."+ext)
}

// RootForDB returns the content store directory belonging to a database file.
func RootForDB(dbPath string) string {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		abs = dbPath
	}
	return abs + ".media"
}

// DetectType picks a MIME type and extension for content named filename whose
// first bytes are head. The filename wins; content sniffing is the fallback.
func DetectType(filename string, head []byte) (string, string) {
	ext := normalizeExt(filepath.Ext(filename))
	mimeType := ""
	if ext != "" {
		mimeType = mime.TypeByExtension("." + ext)
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = strings.TrimSpace(mimeType[:i])
		}
	}

	if mimeType == "" || ext == "" {
		detected := mimetype.Detect(head)
		if mimeType == "" && detected.String() != DefaultMimeType {
			mimeType = detected.String()
			if i := strings.IndexByte(mimeType, ';'); i >= 0 {
				mimeType = strings.TrimSpace(mimeType[:i])
			}
		}
		if ext == "" {
			ext = normalizeExt(detected.Extension())
		}
	}

	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	if ext == "" {
		ext = DefaultExt
	}
	return mimeType, ext
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
