// Package jsonstore persists per-user documents as flat JSON files.
// Each file is read-modified-written whole under a lock; a corrupt or
// missing file reads as an empty store.
package jsonstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mindpathdev/logger"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type StoreConnectProps struct {
	Logger *logger.LogMiddleware
	Dir    string
}

// docFile serializes all access to one JSON document on disk.
type docFile struct {
	mu     sync.Mutex
	path   string
	logger *logger.LogMiddleware
}

func newDocFile(ctx context.Context, args StoreConnectProps, name string) (*docFile, error) {
	if err := os.MkdirAll(args.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create data dir: %w", err)
	}
	return &docFile{path: filepath.Join(args.Dir, name), logger: args.Logger}, nil
}

// load decodes the document into v. Unreadable or corrupt files are
// treated as an empty store, not an error.
func (f *docFile) load(ctx context.Context, v any) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(raw, v); err != nil {
		f.logger.Logger(ctx).Warn("[JSONStore] Corrupt store file, starting empty",
			zap.String("path", f.path), zap.Error(err))
	}
}

func (f *docFile) save(ctx context.Context, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// weekStartUTC returns the ISO timestamp of Monday 00:00 UTC of the week
// containing now. Used as the rolling-quota bucket key.
func weekStartUTC(now time.Time) string {
	now = now.UTC()
	weekday := (int(now.Weekday()) + 6) % 7 // Monday == 0
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -weekday)
	return start.Format(time.RFC3339)
}

func connectSpan(ctx context.Context, name string) (context.Context, func()) {
	tracer := otel.Tracer("jsonstore/" + name)
	ctx, span := tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}
