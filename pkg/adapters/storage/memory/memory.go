package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/dago-probe/pkg/domain"
)

// InMemoryInstanceStore implements InstanceStore using an in-memory map
type InMemoryInstanceStore struct {
	instances map[string]*domain.Instance
	mu        sync.RWMutex
}

// NewInMemoryInstanceStore creates a new in-memory instance store
func NewInMemoryInstanceStore() *InMemoryInstanceStore {
	return &InMemoryInstanceStore{
		instances: make(map[string]*domain.Instance),
	}
}

// Save stores a copy of the instance
func (s *InMemoryInstanceStore) Save(ctx context.Context, instance *domain.Instance) error {
	if instance == nil || instance.InstanceID == "" {
		return fmt.Errorf("instance ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances[instance.InstanceID] = instance.Clone()
	return nil
}

// Get returns a copy of the stored instance
func (s *InMemoryInstanceStore) Get(ctx context.Context, instanceID string) (*domain.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
	}

	return instance.Clone(), nil
}

// Update applies fn under the store lock
func (s *InMemoryInstanceStore) Update(ctx context.Context, instanceID string, fn func(*domain.Instance) error) (*domain.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.instances[instanceID] = next
	return next.Clone(), nil
}

// Delete removes an instance
func (s *InMemoryInstanceStore) Delete(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[instanceID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
	}
	delete(s.instances, instanceID)
	return nil
}

// List returns all instances ordered by creation time
func (s *InMemoryInstanceStore) List(ctx context.Context) ([]*domain.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := make([]*domain.Instance, 0, len(s.instances))
	for _, instance := range s.instances {
		instances = append(instances, instance.Clone())
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedTime.Before(instances[j].CreatedTime)
	})

	return instances, nil
}
