package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aescanero/dago-probe/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "dago-probe:instance:"

// maxUpdateRetries bounds optimistic-lock retries in Update
const maxUpdateRetries = 5

// InstanceStore implements InstanceStore using Redis
type InstanceStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewInstanceStore creates a new Redis instance store
func NewInstanceStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *InstanceStore {
	return &InstanceStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists an instance with the configured TTL
func (s *InstanceStore) Save(ctx context.Context, instance *domain.Instance) error {
	if instance == nil || instance.InstanceID == "" {
		return fmt.Errorf("instance ID is required")
	}

	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	if err := s.client.Set(ctx, getInstanceKey(instance.InstanceID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}

	s.logger.Debug("instance saved",
		zap.String("instance_id", instance.InstanceID),
		zap.String("runtime_status", string(instance.RuntimeStatus)))

	return nil
}

// Get retrieves an instance
func (s *InstanceStore) Get(ctx context.Context, instanceID string) (*domain.Instance, error) {
	data, err := s.client.Get(ctx, getInstanceKey(instanceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return decodeInstance(data)
}

// Update applies fn inside a WATCH/MULTI transaction, retrying on concurrent writes
func (s *InstanceStore) Update(ctx context.Context, instanceID string, fn func(*domain.Instance) error) (*domain.Instance, error) {
	key := getInstanceKey(instanceID)
	var updated *domain.Instance

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
			}
			return fmt.Errorf("failed to get instance: %w", err)
		}

		instance, err := decodeInstance(data)
		if err != nil {
			return err
		}
		if err := fn(instance); err != nil {
			return err
		}

		encoded, err := json.Marshal(instance)
		if err != nil {
			return fmt.Errorf("failed to marshal instance: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		updated = instance
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("instance update conflict, retrying",
				zap.String("instance_id", instanceID),
				zap.Int("attempt", i+1))
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("failed to update instance %s: too many concurrent writes", instanceID)
}

// Delete removes an instance
func (s *InstanceStore) Delete(ctx context.Context, instanceID string) error {
	n, err := s.client.Del(ctx, getInstanceKey(instanceID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
	}

	s.logger.Debug("instance deleted", zap.String("instance_id", instanceID))
	return nil
}

// List returns all stored instances ordered by creation time
func (s *InstanceStore) List(ctx context.Context) ([]*domain.Instance, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	instances := make([]*domain.Instance, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			// expired between SCAN and GET
			continue
		}

		instance, err := decodeInstance(data)
		if err != nil {
			s.logger.Warn("skipping undecodable instance", zap.String("key", key), zap.Error(err))
			continue
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedTime.Before(instances[j].CreatedTime)
	})

	return instances, nil
}

func decodeInstance(data []byte) (*domain.Instance, error) {
	var instance domain.Instance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	return &instance, nil
}

// getInstanceKey returns the Redis key for an instance
func getInstanceKey(instanceID string) string {
	return keyPrefix + instanceID
}
