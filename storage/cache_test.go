package storage

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"todos/domain"
)

type stubCollection struct {
	findFn   func(ctx context.Context, q Query) (FindResult, error)
	createFn func(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error)
	updateFn func(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error)
	deleteFn func(ctx context.Context, id string) (domain.DocumentResult, error)
}

func (s *stubCollection) Find(ctx context.Context, q Query) (FindResult, error) {
	if s.findFn == nil {
		return FindResult{}, errors.New("unexpected Find call")
	}
	return s.findFn(ctx, q)
}

func (s *stubCollection) Create(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
	if s.createFn == nil {
		return domain.DocumentResult{}, errors.New("unexpected Create call")
	}
	return s.createFn(ctx, id, todo)
}

func (s *stubCollection) Update(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
	if s.updateFn == nil {
		return domain.DocumentResult{}, errors.New("unexpected Update call")
	}
	return s.updateFn(ctx, id, todo)
}

func (s *stubCollection) Delete(ctx context.Context, id string) (domain.DocumentResult, error) {
	if s.deleteFn == nil {
		return domain.DocumentResult{}, errors.New("unexpected Delete call")
	}
	return s.deleteFn(ctx, id)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheFindMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	expected := FindResult{Data: map[string]domain.Todo{"t1": {ID: "t1", Text: "write code", Created: 1}}}

	var calls int
	cache := NewCache(&stubCollection{
		findFn: func(ctx context.Context, q Query) (FindResult, error) {
			calls++
			return expected, nil
		},
	}, client, "todos", time.Minute)

	res, err := cache.Find(ctx, Query{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !reflect.DeepEqual(res, expected) {
		t.Fatalf("unexpected result: %#v", res)
	}
	if ttl := mr.TTL(cache.hashKey()); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.Find(ctx, Query{})
	if err != nil {
		t.Fatalf("find cached: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached result: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached find to avoid backend, calls=%d", calls)
	}
}

func TestCacheSeparatesQueries(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	var calls int
	cache := NewCache(&stubCollection{
		findFn: func(ctx context.Context, q Query) (FindResult, error) {
			calls++
			return FindResult{Data: map[string]domain.Todo{}}, nil
		},
	}, client, "todos", time.Minute)

	done := true
	_, _ = cache.Find(ctx, Query{})
	_, _ = cache.Find(ctx, Query{Completed: &done})
	_, _ = cache.Find(ctx, Query{Completed: &done})
	if calls != 2 {
		t.Fatalf("expected one backend call per distinct query, got %d", calls)
	}
}

func TestCacheWritesEvict(t *testing.T) {
	ok := func(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
		return domain.DocumentResult{DocumentID: id}, nil
	}
	writes := map[string]func(c *Cache) error{
		"create": func(c *Cache) error { _, err := c.Create(context.Background(), "t1", domain.Todo{}); return err },
		"update": func(c *Cache) error { _, err := c.Update(context.Background(), "t1", domain.Todo{}); return err },
		"delete": func(c *Cache) error { _, err := c.Delete(context.Background(), "t1"); return err },
	}
	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			mr, client := newTestRedis(t)
			var calls int
			cache := NewCache(&stubCollection{
				findFn: func(ctx context.Context, q Query) (FindResult, error) {
					calls++
					return FindResult{Data: map[string]domain.Todo{}}, nil
				},
				createFn: ok,
				updateFn: ok,
				deleteFn: func(ctx context.Context, id string) (domain.DocumentResult, error) {
					return domain.DocumentResult{DocumentID: id, Deleted: true}, nil
				},
			}, client, "todos", time.Minute)

			if _, err := cache.Find(context.Background(), Query{}); err != nil {
				t.Fatalf("find: %v", err)
			}
			if !mr.Exists(cache.hashKey()) {
				t.Fatalf("expected cache entry after find")
			}
			if err := write(cache); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if mr.Exists(cache.hashKey()) {
				t.Fatalf("expected %s to evict cached queries", name)
			}
			if _, err := cache.Find(context.Background(), Query{}); err != nil {
				t.Fatalf("find: %v", err)
			}
			if calls != 2 {
				t.Fatalf("expected backend to be hit again after %s, calls=%d", name, calls)
			}
		})
	}
}

func TestCacheFailedWriteKeepsEntries(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewCache(&stubCollection{
		findFn: func(ctx context.Context, q Query) (FindResult, error) {
			return FindResult{Data: map[string]domain.Todo{}}, nil
		},
		updateFn: func(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
			return domain.DocumentResult{}, domain.NotFound("update", id, nil)
		},
	}, client, "todos", time.Minute)

	_, _ = cache.Find(context.Background(), Query{})
	if _, err := cache.Update(context.Background(), "missing", domain.Todo{}); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected not found to pass through, got %v", err)
	}
	if !mr.Exists(cache.hashKey()) {
		t.Fatalf("failed writes must not evict")
	}
}

func TestCacheRedisDownFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	var calls int
	cache := NewCache(&stubCollection{
		findFn: func(ctx context.Context, q Query) (FindResult, error) {
			calls++
			return FindResult{Data: map[string]domain.Todo{"a": {ID: "a"}}}, nil
		},
	}, client, "todos", time.Minute)

	res, err := cache.Find(context.Background(), Query{})
	if err != nil {
		t.Fatalf("expected fallback to backend, got %v", err)
	}
	if len(res.Data) != 1 || calls != 1 {
		t.Fatalf("unexpected fallback result: %+v calls=%d", res, calls)
	}
	if _, err := cache.Find(context.Background(), Query{}); err != nil || calls != 2 {
		t.Fatalf("expected every find to reach the backend, err=%v calls=%d", err, calls)
	}
}

func TestCacheReadErrorLeavesKeyAlone(t *testing.T) {
	mr, client := newTestRedis(t)
	var calls int
	cache := NewCache(&stubCollection{
		findFn: func(ctx context.Context, q Query) (FindResult, error) {
			calls++
			return FindResult{Data: map[string]domain.Todo{}}, nil
		},
	}, client, "todos", time.Minute)

	// HGET on a string key fails with WRONGTYPE.
	if err := mr.Set(cache.hashKey(), "not a hash"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := cache.Find(context.Background(), Query{}); err != nil {
		t.Fatalf("find: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fallback to backend, calls=%d", calls)
	}
	if got, err := mr.Get(cache.hashKey()); err != nil || got != "not a hash" {
		t.Fatalf("read errors must not touch the key, got %q err=%v", got, err)
	}
}

func TestCacheFindRacingWriteIsNotCached(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		rows  = map[string]domain.Todo{}
		calls int
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	cache := NewCache(&stubCollection{
		findFn: func(ctx context.Context, q Query) (FindResult, error) {
			mu.Lock()
			snapshot := make(map[string]domain.Todo, len(rows))
			for k, v := range rows {
				snapshot[k] = v
			}
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				close(entered)
				<-release
			}
			return FindResult{Data: snapshot}, nil
		},
		createFn: func(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
			mu.Lock()
			rows[id] = todo
			mu.Unlock()
			return domain.DocumentResult{DocumentID: id}, nil
		},
	}, client, "todos", time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := cache.Find(ctx, Query{})
		done <- err
	}()

	<-entered
	if _, err := cache.Create(ctx, "t1", domain.Todo{ID: "t1", Text: "fresh"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("find: %v", err)
	}

	if mr.Exists(cache.hashKey()) {
		t.Fatalf("a find that raced a write must not cache its result")
	}
	res, err := cache.Find(ctx, Query{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if _, ok := res.Data["t1"]; !ok {
		t.Fatalf("expected t1 after the write, got %+v", res.Data)
	}
	if calls != 2 {
		t.Fatalf("expected backend to be queried again, calls=%d", calls)
	}
	if !mr.Exists(cache.hashKey()) {
		t.Fatalf("expected the fresh result to be cached")
	}
}

func TestCacheCorruptEntryIsDropped(t *testing.T) {
	mr, client := newTestRedis(t)
	var calls int
	cache := NewCache(&stubCollection{
		findFn: func(ctx context.Context, q Query) (FindResult, error) {
			calls++
			return FindResult{Data: map[string]domain.Todo{}}, nil
		},
	}, client, "todos", time.Minute)

	mr.HSet(cache.hashKey(), Query{}.key(), "{not json")
	if _, err := cache.Find(context.Background(), Query{}); err != nil {
		t.Fatalf("find: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected corrupt entry to fall through to backend, calls=%d", calls)
	}
}

func TestCacheZeroTTLDisablesStore(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewCache(&stubCollection{
		findFn: func(ctx context.Context, q Query) (FindResult, error) {
			return FindResult{Data: map[string]domain.Todo{}}, nil
		},
	}, client, "todos", 0)

	_, _ = cache.Find(context.Background(), Query{})
	if mr.Exists(cache.hashKey()) {
		t.Fatalf("zero TTL should not store entries")
	}
}
