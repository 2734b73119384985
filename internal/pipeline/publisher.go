// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/metrics"
	"github.com/ManuGH/mediasearch/internal/store"
)

// Publisher fronts the store's atomic cutover. It exists so publish attempts
// are observable in one place; the transactional guarantees live in the
// store adapter.
type Publisher struct {
	db     store.Store
	logger zerolog.Logger
}

func NewPublisher(db store.Store) *Publisher {
	return &Publisher{db: db, logger: log.WithComponent("publisher")}
}

// Publish cuts the version over to ACTIVE and repoints the asset. Safe to
// call again for an already-current version.
func (p *Publisher) Publish(ctx context.Context, assetID, versionID string) error {
	if err := p.db.PublishVersion(ctx, assetID, versionID); err != nil {
		metrics.PublishTotal.WithLabelValues("error").Inc()
		p.logger.Error().Err(err).
			Str(log.FieldAssetID, assetID).
			Str(log.FieldVersionID, versionID).
			Msg("publish failed")
		return err
	}
	metrics.PublishTotal.WithLabelValues("ok").Inc()
	p.logger.Info().
		Str(log.FieldAssetID, assetID).
		Str(log.FieldVersionID, versionID).
		Msg("version published")
	return nil
}
