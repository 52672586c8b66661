// Package provider loads feature payloads from a source and keeps the
// served snapshot current.
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagkit/internal/snapshot"
	"github.com/TimurManjosov/flagkit/internal/validation"
)

// ErrNoPath is returned when a file source has no path configured.
var ErrNoPath = errors.New("no feature file path set")

// Source produces feature snapshots.
type Source interface {
	// Load reads and validates the payload once.
	Load(ctx context.Context) (*snapshot.Snapshot, error)
	// Watch calls onChange with every new valid snapshot until ctx is done.
	Watch(ctx context.Context, onChange func(*snapshot.Snapshot)) error
}

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 100 * time.Millisecond

// FileSource reads a JSON payload from disk and reloads it on change.
type FileSource struct {
	path string
	log  zerolog.Logger
}

func NewFileSource(path string, log zerolog.Logger) *FileSource {
	return &FileSource{path: path, log: log.With().Str("component", "provider").Str("path", path).Logger()}
}

func (fs *FileSource) Load(_ context.Context) (*snapshot.Snapshot, error) {
	if fs.path == "" {
		return nil, ErrNoPath
	}
	raw, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}
	return Decode(raw, fs.log)
}

// Decode validates raw against the payload schema and builds a snapshot.
// Lint findings are logged but do not reject the payload: the evaluator
// already folds every problem they describe to a safe result.
func Decode(raw []byte, log zerolog.Logger) (*snapshot.Snapshot, error) {
	result, err := validation.ValidatePayloadSchema(raw)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, &InvalidPayloadError{Errors: result.Errors}
	}
	snap, err := snapshot.Parse(raw)
	if err != nil {
		return nil, err
	}
	lint := validation.LintFeatures(snap.Features, snap.SavedGroups)
	for _, field := range lint.Fields() {
		log.Warn().Str("field", field).Msg(lint.Errors[field])
	}
	return snap, nil
}

// InvalidPayloadError lists the schema violations of a rejected payload.
type InvalidPayloadError struct {
	Errors map[string]string
}

func (e *InvalidPayloadError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for field, msg := range e.Errors {
		parts = append(parts, field+": "+msg)
	}
	return "invalid feature payload: " + strings.Join(parts, "; ")
}

// Watch watches the file's directory, since editors often replace files by
// rename, and reloads after each burst of events. Invalid payloads are
// logged and the previous snapshot stays in place.
func (fs *FileSource) Watch(ctx context.Context, onChange func(*snapshot.Snapshot)) error {
	if fs.path == "" {
		return ErrNoPath
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
		return fmt.Errorf("watch %s: %w", fs.path, err)
	}

	target := filepath.Clean(fs.path)
	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fs.log.Error().Err(err).Msg("watcher error")
		case <-timer.C:
			snap, err := fs.Load(ctx)
			if err != nil {
				fs.log.Error().Err(err).Msg("reload failed, keeping previous features")
				continue
			}
			fs.log.Info().Int("features", snap.Len()).Str("etag", snap.ETag).Msg("features reloaded")
			onChange(snap)
		}
	}
}
