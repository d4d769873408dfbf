// Package imagestore keeps captured label images outside the scan record.
package imagestore

import (
	"context"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/petscan/internal/config"
)

// Store persists image bytes and hands back an opaque reference.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// New builds the store selected by cfg.Driver. The "none" driver returns a
// nil Store; callers skip image persistence in that case.
func New(ctx context.Context, cfg config.ImagesConfig) (Store, error) {
	switch cfg.Driver {
	case "none", "":
		return nil, nil
	case "fs":
		return NewFSStore(cfg.Dir)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, eris.Errorf("imagestore: unknown driver %q", cfg.Driver)
	}
}

// ObjectKey derives a storage key for a scan image from its sniffed content
// type.
func ObjectKey(scanID string, data []byte) (key, contentType string) {
	contentType = http.DetectContentType(data)
	return scanID + extension(contentType), contentType
}

func extension(contentType string) string {
	switch strings.SplitN(contentType, ";", 2)[0] {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
