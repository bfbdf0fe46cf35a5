package redis

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/dago-probe/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*InstanceStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewInstanceStore(client, time.Hour, zap.NewNop()), mr
}

func TestInstanceStore_SaveGetWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Save(ctx, &domain.Instance{
		Name:          "Hello",
		InstanceID:    "abc123",
		RuntimeStatus: domain.RuntimeStatusPending,
		Input:         "Durable Functions",
		CreatedTime:   created,
	}))

	assert.Equal(t, time.Hour, mr.TTL("dago-probe:instance:abc123"))

	got, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.RuntimeStatusPending, got.RuntimeStatus)
	assert.Equal(t, "Durable Functions", got.Input)
	assert.True(t, created.Equal(got.CreatedTime))
}

func TestInstanceStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestInstanceStore_Update(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &domain.Instance{InstanceID: "abc", RuntimeStatus: domain.RuntimeStatusPending}))

	updated, err := store.Update(ctx, "abc", func(i *domain.Instance) error {
		return i.Transition(domain.RuntimeStatusRunning, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RuntimeStatusRunning, updated.RuntimeStatus)

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, domain.RuntimeStatusRunning, got.RuntimeStatus)

	_, err = store.Update(ctx, "missing", func(i *domain.Instance) error { return nil })
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestInstanceStore_ListAndDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Save(ctx, &domain.Instance{InstanceID: "b", CreatedTime: now.Add(time.Minute)}))
	require.NoError(t, store.Save(ctx, &domain.Instance{InstanceID: "a", CreatedTime: now}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].InstanceID)

	require.NoError(t, store.Delete(ctx, "a"))
	assert.ErrorIs(t, store.Delete(ctx, "a"), domain.ErrInstanceNotFound)
}
