package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"todos/domain"
)

// Cache wraps a collection with Redis-backed caching of Find results. All
// cached queries of a namespace live in one hash so a write can drop them
// with a single DEL. Writes also bump a generation counter; a Find only
// stores its result if the generation it read before querying the base
// collection is still current, so a read racing a write never re-caches
// the pre-write rows.
type Cache struct {
	base      Collection
	redis     *redis.Client
	ttl       time.Duration
	namespace string
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Collection, client *redis.Client, namespace string, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base collection is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, namespace: namespace}
}

// WithCache returns a Decorator installing a Cache.
func WithCache(client *redis.Client, namespace string, ttl time.Duration) Decorator {
	return func(c Collection) Collection {
		return NewCache(c, client, namespace, ttl)
	}
}

func (c *Cache) Find(ctx context.Context, q Query) (FindResult, error) {
	if res, ok := c.load(ctx, q); ok {
		return res, nil
	}

	gen, genOK := c.generation(ctx)
	res, err := c.base.Find(ctx, q)
	if err != nil {
		return FindResult{}, err
	}

	if genOK {
		c.store(ctx, q, res, gen)
	}
	return res, nil
}

func (c *Cache) Create(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
	res, err := c.base.Create(ctx, id, todo)
	if err != nil {
		return res, err
	}
	c.evict(ctx)
	return res, nil
}

func (c *Cache) Update(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
	res, err := c.base.Update(ctx, id, todo)
	if err != nil {
		return res, err
	}
	c.evict(ctx)
	return res, nil
}

func (c *Cache) Delete(ctx context.Context, id string) (domain.DocumentResult, error) {
	res, err := c.base.Delete(ctx, id)
	if err != nil {
		return res, err
	}
	c.evict(ctx)
	return res, nil
}

func (c *Cache) load(ctx context.Context, q Query) (FindResult, bool) {
	if c.redis == nil {
		return FindResult{}, false
	}
	// Any redis error, including a miss, falls back to the backing collection.
	data, err := c.redis.HGet(ctx, c.hashKey(), q.key()).Bytes()
	if err != nil {
		return FindResult{}, false
	}
	var res FindResult
	if err := sonic.Unmarshal(data, &res); err != nil {
		_ = c.redis.HDel(ctx, c.hashKey(), q.key()).Err()
		return FindResult{}, false
	}
	if res.Data == nil {
		res.Data = map[string]domain.Todo{}
	}
	return res, true
}

// generation reads the namespace's write counter. ok is false when redis
// cannot be read, in which case nothing should be cached.
func (c *Cache) generation(ctx context.Context) (gen int64, ok bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, c.genKey()).Int64()
	if err == redis.Nil {
		return 0, true
	}
	return gen, err == nil
}

func (c *Cache) store(ctx context.Context, q Query, res FindResult, gen int64) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(res)
	if err != nil {
		return
	}
	// WATCH aborts the transaction if a write bumps the generation between
	// the check and EXEC.
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, c.genKey()).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, c.hashKey(), q.key(), data)
			pipe.Expire(ctx, c.hashKey(), c.ttl)
			return nil
		})
		return err
	}, c.genKey())
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey())
		pipe.Del(ctx, c.hashKey())
		return nil
	})
}

func (c *Cache) hashKey() string {
	return "todos:find:" + c.namespace
}

func (c *Cache) genKey() string {
	return "todos:gen:" + c.namespace
}
