package app

import (
	"context"
	"errors"
	"fmt"

	"reviewline/internal/config"
	"reviewline/internal/repo"
)

// ResolveConfig loads the lifecycle config stored in the DB, seeding it on
// first use. A reviewline.yml in the workspace takes precedence as the seed;
// otherwise the built-in default table is used.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		seed = config.Default()
	}
	if err := r.UpsertConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return seed, nil
}
