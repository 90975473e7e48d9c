// Package redis provides the network job store backend: namespaced keys
// with scan-based listing.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/models"
)

// Store persists each job under <namespace>:<job_id>.
type Store struct {
	client    *redis.Client
	namespace string
	logger    arbor.ILogger
}

// NewStore connects to redis and verifies the connection with a ping.
func NewStore(config *common.RedisConfig, logger arbor.ILogger) (interfaces.JobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	namespace := config.Namespace
	if namespace == "" {
		namespace = "verso:jobs"
	}

	return &Store{client: client, namespace: namespace, logger: logger}, nil
}

// NewStoreWithClient wraps an existing client; used by tests.
func NewStoreWithClient(client *redis.Client, namespace string, logger arbor.ILogger) interfaces.JobStore {
	return &Store{client: client, namespace: namespace, logger: logger}
}

func (s *Store) key(jobID string) string {
	return s.namespace + ":" + jobID
}

func (s *Store) Save(ctx context.Context, metadata *models.PipelineJobMetadata) error {
	data, err := metadata.CanonicalJSON()
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(metadata.JobID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", metadata.JobID, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, metadata *models.PipelineJobMetadata) error {
	data, err := metadata.CanonicalJSON()
	if err != nil {
		return err
	}
	// SET XX only succeeds when the key already exists.
	ok, err := s.client.SetXX(ctx, s.key(metadata.JobID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", metadata.JobID, err)
	}
	if !ok {
		return fmt.Errorf("update %s: %w", metadata.JobID, models.ErrJobNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*models.PipelineJobMetadata, error) {
	data, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("get %s: %w", jobID, models.ErrJobNotFound)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return models.MetadataFromJSON(data)
}

func (s *Store) List(ctx context.Context) (map[string]*models.PipelineJobMetadata, error) {
	result := make(map[string]*models.PipelineJobMetadata)

	iter := s.client.Scan(ctx, 0, s.namespace+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // Deleted between scan and get
			}
			return nil, fmt.Errorf("failed to read key %s: %w", key, err)
		}
		metadata, err := models.MetadataFromJSON(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Corrupt job record, skipping")
			continue
		}
		result[strings.TrimPrefix(key, s.namespace+":")] = metadata
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	return result, nil
}

func (s *Store) Delete(ctx context.Context, jobID string) error {
	n, err := s.client.Del(ctx, s.key(jobID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", jobID, models.ErrJobNotFound)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
