package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trakwell-ai/websocket-notify/internal/logger"
)

// Kind selects one of the two tracking sets maintained by the index.
type Kind int

const (
	// KindPointers tracks live session:<connectionId> keys.
	KindPointers Kind = iota
	// KindLists tracks live sessions:<USER>:<ROOM> keys.
	KindLists
)

const (
	pointerSetKey = "active:sessions"
	listSetKey    = "active:sessionlists"

	scanBatch = 100
)

func (k Kind) setKey() string {
	if k == KindPointers {
		return pointerSetKey
	}
	return listSetKey
}

// Index maintains the two tracking sets so that "all live X" can be
// enumerated in O(live count) instead of scanning the whole key space.
//
// The index is an optimization, never a source of truth: every reader has a
// scan-based fallback, and Rebuild repopulates the sets from the
// authoritative keys.
type Index struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIndex(client *redis.Client, ttl time.Duration) *Index {
	return &Index{client: client, ttl: ttl}
}

// Mark records a key as live. Idempotent. The tracking set's own TTL is
// refreshed so it does not outlive its members indefinitely.
func (ix *Index) Mark(ctx context.Context, kind Kind, key string) error {
	pipe := ix.client.Pipeline()
	ix.markPipe(ctx, pipe, kind, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("index mark", err)
	}
	return nil
}

// Unmark drops a key from its tracking set. Idempotent.
func (ix *Index) Unmark(ctx context.Context, kind Kind, key string) error {
	if err := ix.client.SRem(ctx, kind.setKey(), key).Err(); err != nil {
		return storeErr("index unmark", err)
	}
	return nil
}

// markPipe queues the mark onto an existing pipeline so callers can batch it
// with their own writes.
func (ix *Index) markPipe(ctx context.Context, pipe redis.Pipeliner, kind Kind, key string) {
	pipe.SAdd(ctx, kind.setKey(), key)
	pipe.Expire(ctx, kind.setKey(), ix.ttl)
}

func (ix *Index) unmarkPipe(ctx context.Context, pipe redis.Pipeliner, kind Kind, key string) {
	pipe.SRem(ctx, kind.setKey(), key)
}

// Members returns the current contents of a tracking set.
func (ix *Index) Members(ctx context.Context, kind Kind) ([]string, error) {
	members, err := ix.client.SMembers(ctx, kind.setKey()).Result()
	if err != nil {
		return nil, storeErr("index members", err)
	}
	return members, nil
}

// Exists reports whether a tracking set currently exists at all.
func (ix *Index) Exists(ctx context.Context, kind Kind) (bool, error) {
	n, err := ix.client.Exists(ctx, kind.setKey()).Result()
	if err != nil {
		return false, storeErr("index exists", err)
	}
	return n > 0, nil
}

// Rebuild repopulates both tracking sets with one bounded, cursor-based
// enumeration of the authoritative key space. It only adds entries, so it is
// safe to run concurrently with normal traffic. Call once at process start;
// calling again on demand is safe if drift is suspected.
func (ix *Index) Rebuild(ctx context.Context) error {
	pointerKeys, err := ix.scanKeys(ctx, pointerKeyPrefix+"*")
	if err != nil {
		return err
	}
	listKeys, err := ix.scanKeys(ctx, listKeyPrefix+"*")
	if err != nil {
		return err
	}

	if len(pointerKeys) == 0 && len(listKeys) == 0 {
		return nil
	}

	pipe := ix.client.Pipeline()
	if len(pointerKeys) > 0 {
		pipe.SAdd(ctx, pointerSetKey, toAnySlice(pointerKeys)...)
		pipe.Expire(ctx, pointerSetKey, ix.ttl)
	}
	if len(listKeys) > 0 {
		pipe.SAdd(ctx, listSetKey, toAnySlice(listKeys)...)
		pipe.Expire(ctx, listSetKey, ix.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("index rebuild", err)
	}

	logger.Info("presence index rebuilt", map[string]any{
		"pointers": len(pointerKeys),
		"lists":    len(listKeys),
	})
	return nil
}

// scanKeys walks the key space with SCAN so the rebuild never issues an
// unbounded blocking KEYS listing.
func (ix *Index) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := ix.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, storeErr("index scan", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func toAnySlice(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
