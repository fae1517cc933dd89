package cache

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/00Mars/pet-pawket-sub000/internal/logger"
)

type entry struct {
	Items []string `json:"items"`
	Total int      `json:"total"`
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, "pawket"), mr
}

func caches(t *testing.T) map[string]Cache {
	r, _ := newTestRedis(t)
	return map[string]Cache{"memory": NewMemory(), "redis": r}
}

func TestSetGetDelete(t *testing.T) {
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, "pets|cust_1", entry{Items: []string{"a"}, Total: 1}, time.Minute))

			var got entry
			ok, err := c.Get(ctx, "pets|cust_1", &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, entry{Items: []string{"a"}, Total: 1}, got)

			require.NoError(t, c.Delete(ctx, "pets|cust_1"))
			ok, err = c.Get(ctx, "pets|cust_1", &got)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, name, c.Mode())
		})
	}
}

func TestDeletePrefix(t *testing.T) {
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{"pets|cust_1|a", "pets|cust_1|b", "pets|cust_2|a"} {
				require.NoError(t, c.Set(ctx, k, 1, time.Minute))
			}
			require.NoError(t, c.DeletePrefix(ctx, "pets|cust_1|"))

			var v int
			ok, _ := c.Get(ctx, "pets|cust_1|a", &v)
			assert.False(t, ok)
			ok, _ = c.Get(ctx, "pets|cust_1|b", &v)
			assert.False(t, ok)
			ok, _ = c.Get(ctx, "pets|cust_2|a", &v)
			assert.True(t, ok)
		})
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Second))
	var v string
	ok, _ := m.Get(ctx, "k", &v)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = m.Get(ctx, "k", &v)
	assert.False(t, ok)
}

func TestRedisExpiry(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, r.Set(ctx, "k", "v", time.Second))
	assert.True(t, mr.Exists("pawket:k"))

	mr.FastForward(2 * time.Second)
	var v string
	ok, err := r.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrSet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	calls := 0
	fn := func(context.Context) ([]string, error) {
		calls++
		return []string{"kibble"}, nil
	}

	v, cached, err := GetOrSet(ctx, c, "catalog|dog", time.Minute, fn)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []string{"kibble"}, v)

	v, cached, err = GetOrSet(ctx, c, "catalog|dog", time.Minute, fn)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []string{"kibble"}, v)
	assert.Equal(t, 1, calls)

	_, _, err = GetOrSet(ctx, c, "catalog|cat", time.Minute, func(context.Context) ([]string, error) {
		return nil, errors.New("shopify down")
	})
	assert.EqualError(t, err, "shopify down")
	var miss []string
	ok, _ := c.Get(ctx, "catalog|cat", &miss)
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "pets|cust_1||24", Key("pets", "cust_1", "", "24"))
}

func TestOpenFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "memory", Open(ctx, "", "pawket", logger.Nop()).Mode())
	var logs bytes.Buffer
	assert.Equal(t, "memory", Open(ctx, "redis://127.0.0.1:1/0", "pawket", logger.NewWithOutput("info", "json", &logs)).Mode())
	assert.Contains(t, logs.String(), `"namespace":"pawket"`)

	mr := miniredis.RunT(t)
	c := Open(ctx, "redis://"+mr.Addr()+"/0", "pawket", logger.Nop())
	assert.Equal(t, "redis", c.Mode())
	require.NoError(t, c.(*Redis).Close())
}
