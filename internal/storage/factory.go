// Package storage selects and constructs the configured job store backend.
package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/storage/badger"
	"github.com/ternarybob/verso/internal/storage/file"
	"github.com/ternarybob/verso/internal/storage/memory"
	"github.com/ternarybob/verso/internal/storage/redis"
)

// NewJobStore builds the backend named by config.Storage.Backend.
func NewJobStore(config *common.Config, logger arbor.ILogger) (interfaces.JobStore, error) {
	switch config.Storage.Backend {
	case "badger":
		db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize badger backend: %w", err)
		}
		logger.Info().Str("backend", "badger").Str("path", config.Storage.Badger.Path).Msg("Job store initialized")
		return badger.NewStore(db, logger), nil

	case "file":
		store, err := file.NewStore(config.Storage.File.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file backend: %w", err)
		}
		logger.Info().Str("backend", "file").Str("path", config.Storage.File.Path).Msg("Job store initialized")
		return store, nil

	case "redis":
		store, err := redis.NewStore(&config.Storage.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis backend: %w", err)
		}
		logger.Info().Str("backend", "redis").Str("addr", config.Storage.Redis.Addr).Msg("Job store initialized")
		return store, nil

	case "memory":
		logger.Info().Str("backend", "memory").Msg("Job store initialized")
		return memory.NewStore(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", config.Storage.Backend)
	}
}
