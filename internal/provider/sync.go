package provider

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagkit/internal/snapshot"
)

// Prime loads the initial snapshot from src and installs it.
func Prime(ctx context.Context, src Source, log zerolog.Logger) (*snapshot.Snapshot, error) {
	snap, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load features: %w", err)
	}
	snapshot.Update(snap)
	log.Info().Int("features", snap.Len()).Str("etag", snap.ETag).Msg("snapshot loaded")
	return snap, nil
}

// Follow installs every snapshot src produces until ctx is done.
func Follow(ctx context.Context, src Source) error {
	return src.Watch(ctx, func(s *snapshot.Snapshot) { snapshot.Update(s) })
}
