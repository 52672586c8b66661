package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/flagkit/internal/snapshot"
)

type staticSource struct {
	snaps []*snapshot.Snapshot
	err   error
}

func (s staticSource) Load(context.Context) (*snapshot.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snaps[0], nil
}

func (s staticSource) Watch(_ context.Context, onChange func(*snapshot.Snapshot)) error {
	for _, snap := range s.snaps[1:] {
		onChange(snap)
	}
	return nil
}

func TestPrimeAndFollow(t *testing.T) {
	first, err := snapshot.Parse([]byte(`{"features": {"prime-a": {"defaultValue": 1}}}`))
	require.NoError(t, err)
	second, err := snapshot.Parse([]byte(`{"features": {"prime-b": {"defaultValue": 1}}}`))
	require.NoError(t, err)
	src := staticSource{snaps: []*snapshot.Snapshot{first, second}}

	got, err := Prime(context.Background(), src, zerolog.Nop())
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Same(t, first, snapshot.Load())

	require.NoError(t, Follow(context.Background(), src))
	assert.Same(t, second, snapshot.Load())
}

func TestPrime_Error(t *testing.T) {
	boom := errors.New("boom")
	_, err := Prime(context.Background(), staticSource{err: boom}, zerolog.Nop())
	assert.ErrorIs(t, err, boom)
}
