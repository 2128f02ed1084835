package cart_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/service-booking-engine/internal/cart"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*cart.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cart.NewRedisStore(rdb, ttl), mr
}

func exerciseStore(t *testing.T, store cart.Store) {
	ctx := context.Background()

	empty, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
	assert.Equal(t, "u1", empty.OwnerID)

	c := cart.New("u1")
	line, err := c.AddLine("svc-a", 2, dayX)
	require.NoError(t, err)
	c.SetDate(dayX)
	require.NoError(t, store.Save(ctx, c))

	loaded, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, line.ID, loaded.Lines[0].ID)
	assert.True(t, loaded.Lines[0].EventDate.Equal(dayX))
	assert.True(t, loaded.DateOverride.Equal(dayX))

	assert.Equal(t, int64(1), loaded.Version)

	_, err = c.AddLine("svc-b", 1, dayX)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, c))
	_, err = loaded.AddLine("svc-c", 1, dayX)
	require.NoError(t, err)
	assert.ErrorIs(t, store.Save(ctx, loaded), cart.ErrStaleCart)
	assert.Equal(t, int64(1), loaded.Version)
	current, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, current.Lines, 2, "stale save wrote nothing")
	assert.Equal(t, int64(2), current.Version)

	other, err := store.Load(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, other.Empty())

	require.NoError(t, store.Delete(ctx, "u1"))
	gone, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, gone.Empty())
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	exerciseStore(t, store)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, cart.NewMemoryStore())
}

func TestRedisStore_Expires(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()
	c := cart.New("u1")
	_, _ = c.AddLine("svc-a", 1, dayX)
	require.NoError(t, store.Save(ctx, c))

	mr.FastForward(2 * time.Minute)
	loaded, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, loaded.Empty())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := cart.NewMemoryStore()
	ctx := context.Background()
	c := cart.New("u1")
	_, _ = c.AddLine("svc-a", 1, dayX)
	require.NoError(t, store.Save(ctx, c))

	c.Clear()
	loaded, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, loaded.Lines, 1)
}

func concurrentAdds(t *testing.T, store cart.Store) {
	ctx := context.Background()
	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				c, err := store.Load(ctx, "u1")
				if err != nil {
					errs <- err
					return
				}
				if _, err := c.AddLine("svc-"+string(rune('a'+i)), 1, dayX); err != nil {
					errs <- err
					return
				}
				err = store.Save(ctx, c)
				if errors.Is(err, cart.ErrStaleCart) {
					continue
				}
				if err != nil {
					errs <- err
				}
				return
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, c.Lines, writers, "no add was lost")
	assert.Equal(t, int64(writers), c.Version)
}

func TestRedisStore_ConcurrentAddsAllLand(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	concurrentAdds(t, store)
}

func TestMemoryStore_ConcurrentAddsAllLand(t *testing.T) {
	concurrentAdds(t, cart.NewMemoryStore())
}
