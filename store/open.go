package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/cppla/pagestats/config"
)

// Open builds the backend named by cfg.Driver and runs its Init.
func Open(ctx context.Context, cfg config.StoreConfig, logLevel string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "redis":
		s, err = OpenRedis(ctx, cfg)
	case "dynamodb":
		s, err = OpenDynamo(ctx, cfg)
	case "mysql":
		db, dbErr := config.OpenDatabase(cfg, logLevel)
		if dbErr != nil {
			return nil, dbErr
		}
		s = NewGormStore(db)
	case "mongodb":
		s, err = OpenMongo(ctx, cfg)
	case "memory":
		s = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
