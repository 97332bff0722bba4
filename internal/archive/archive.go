// Package archive keeps the raw inputs of a draft: uploaded audio and the
// transcript it produced.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-order/internal/config"
)

// Archiver stores a blob under key and returns where it can be fetched from.
type Archiver interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

func New(ctx context.Context, cfg config.ArchiveConfig) (Archiver, error) {
	switch cfg.Mode {
	case "", "none":
		return Noop{}, nil
	case "dir":
		return NewDir(cfg.Directory)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported archive mode %q", cfg.Mode)
	}
}

// Noop discards everything.
type Noop struct{}

func (Noop) Put(_ context.Context, _ string, body io.Reader, _ string) (string, error) {
	_, err := io.Copy(io.Discard, body)
	return "", err
}

// AudioKey names an uploaded recording.
func AudioKey(now time.Time, ext string) string {
	return path.Join("audio-uploads", fmt.Sprintf("order-%d-%s%s", now.UnixMilli(), uuid.NewString(), dotExt(ext)))
}

// ImageKey names a menu item picture.
func ImageKey(itemID int64, now time.Time, ext string) string {
	return path.Join("uploads", fmt.Sprintf("item-%d-%d-%s%s", itemID, now.UnixMilli(), uuid.NewString(), dotExt(ext)))
}

func TranscriptKey(sessionID string) string {
	return path.Join("transcribed-audio", sessionID+".txt")
}

func dotExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
