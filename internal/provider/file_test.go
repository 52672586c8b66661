package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/flagkit/internal/snapshot"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.json")
	writeFile(t, path, `{"features": {"banner": {"defaultValue": "blue"}}}`)

	snap, err := NewFileSource(path, zerolog.Nop()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, "blue", snap.Features["banner"].DefaultValue.Content())
}

func TestFileSource_LoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileSource("", zerolog.Nop()).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoPath)

	_, err = NewFileSource(filepath.Join(dir, "missing.json"), zerolog.Nop()).Load(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `{"features": {"f": {"rules": [{"coverage": 5}]}}}`)
	_, err = NewFileSource(bad, zerolog.Nop()).Load(context.Background())
	var invalid *InvalidPayloadError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Contains(t, invalid.Errors, "features.f.rules.0.coverage")
}

func TestDecode_LintIsNotFatal(t *testing.T) {
	snap, err := Decode([]byte(`{"features": {"f": {"rules": [{"condition": {"x": {"$regex": "("}}, "force": 1}]}}}`), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
}

func TestFileSource_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.json")
	writeFile(t, path, `{"features": {"a": {"defaultValue": 1}}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan *snapshot.Snapshot, 4)
	done := make(chan error, 1)
	go func() {
		done <- NewFileSource(path, zerolog.Nop()).Watch(ctx, func(s *snapshot.Snapshot) { updates <- s })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `{"features": {"a": {"defaultValue": 2}, "b": {"defaultValue": 3}}}`)

	select {
	case snap := <-updates:
		assert.Equal(t, 2, snap.Len())
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after file change")
	}

	// An invalid write keeps the previous snapshot: no callback.
	writeFile(t, path, `{"features": `)
	select {
	case snap := <-updates:
		t.Fatalf("unexpected reload with %d features", snap.Len())
	case <-time.After(400 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
