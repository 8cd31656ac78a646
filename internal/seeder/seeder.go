// Package seeder creates a development API key so local services can talk
// to the cost service without manual key provisioning. It is only invoked
// when RUN_SEED=true.
package seeder

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/staslianx/balli-sub011/internal/auth"
)

const (
	DevAPIKey  = "dev-cost-key-12345"
	DevService = "local-dev"
)

// SeedDevAPIKey inserts a key with report access for local development.
// An already-existing key is not an error.
func SeedDevAPIKey(ctx context.Context, store auth.Store, logger zerolog.Logger) {
	logger = logger.With().Str("component", "seeder").Logger()

	key := &auth.APIKey{
		Service: DevService,
		KeyHash: auth.HashKey(DevAPIKey),
		Reports: true,
		Active:  true,
	}

	if err := store.Create(ctx, key); err != nil {
		logger.Info().Err(err).Msg("dev API key may already exist, skipping")
		return
	}
	logger.Info().Str("service", DevService).Str("key", DevAPIKey).Msg("dev API key created")
}
