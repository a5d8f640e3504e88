package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trakwell-ai/websocket-notify/internal/logger"
)

// Summary reports one sweep pass for observability.
type Summary struct {
	SessionsRemoved int `json:"sessionsRemoved"`
	ListsScanned    int `json:"listsScanned"`
	OrphansRemoved  int `json:"orphansRemoved"`
}

// Sweeper evicts sessions past their time-to-live and reconciles presence
// index drift left behind by non-atomic multi-key writes. It is a
// single-purpose job; scheduling is the caller's concern.
type Sweeper struct {
	client *redis.Client
	index  *Index
	ttl    time.Duration
}

func NewSweeper(client *redis.Client, index *Index, ttl time.Duration) *Sweeper {
	return &Sweeper{client: client, index: index, ttl: ttl}
}

// Sweep runs one full pass. It never fails as a whole: a problem with one
// entry is logged and the pass continues, so a single bad record cannot
// abort the sweep.
func (w *Sweeper) Sweep(ctx context.Context) Summary {
	var sum Summary
	cutoff := time.Now().Add(-w.ttl)

	listKeys, err := w.index.Members(ctx, KindLists)
	if err != nil {
		logger.Error("sweep: cannot enumerate session lists", map[string]any{
			"error": err.Error(),
		})
		return sum
	}

	for _, lk := range listKeys {
		sum.ListsScanned++
		removed, err := w.sweepList(ctx, lk, cutoff)
		if err != nil {
			logger.Error("sweep: list pass failed", map[string]any{
				"key":   lk,
				"error": err.Error(),
			})
			continue
		}
		sum.SessionsRemoved += removed
	}

	pointerKeys, err := w.index.Members(ctx, KindPointers)
	if err != nil {
		logger.Error("sweep: cannot enumerate session pointers", map[string]any{
			"error": err.Error(),
		})
		return sum
	}

	for _, pk := range pointerKeys {
		orphan, err := w.reconcilePointer(ctx, pk)
		if err != nil {
			logger.Error("sweep: pointer pass failed", map[string]any{
				"key":   pk,
				"error": err.Error(),
			})
			continue
		}
		if orphan {
			sum.OrphansRemoved++
		}
	}

	return sum
}

// sweepList removes expired entries from one session list. A stored payload
// that fails to parse is treated as expired and deleted rather than retried.
func (w *Sweeper) sweepList(ctx context.Context, lk string, cutoff time.Time) (int, error) {
	raws, err := w.client.LRange(ctx, lk, 0, -1).Result()
	if err != nil {
		return 0, storeErr("sweep list", err)
	}

	type victim struct {
		raw          string
		connectionID string
	}
	var expired []victim
	valid := 0

	for _, raw := range raws {
		sess, err := decodeSession(raw)
		if err != nil {
			expired = append(expired, victim{raw: raw})
			continue
		}
		if sess.CreatedAt.Before(cutoff) {
			expired = append(expired, victim{raw: raw, connectionID: sess.ConnectionID})
			continue
		}
		valid++
	}

	// A list the index knows about but the store no longer holds is stale
	// index state; drop the mark.
	if len(raws) == 0 {
		if err := w.index.Unmark(ctx, KindLists, lk); err != nil {
			return 0, err
		}
		return 0, nil
	}

	if len(expired) == 0 {
		return 0, nil
	}

	pipe := w.client.Pipeline()
	for _, v := range expired {
		pipe.LRem(ctx, lk, 0, v.raw)
		if v.connectionID != "" {
			pk := pointerKey(v.connectionID)
			pipe.Del(ctx, pk)
			w.index.unmarkPipe(ctx, pipe, KindPointers, pk)
		}
	}
	if valid == 0 {
		pipe.Del(ctx, lk)
		w.index.unmarkPipe(ctx, pipe, KindLists, lk)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, storeErr("sweep list", err)
	}
	return len(expired), nil
}

// reconcilePointer verifies that a tracked pointer still resolves to an
// existing list entry. Orphans are deleted and unmarked; this heals the
// drift a torn register/remove can leave behind.
func (w *Sweeper) reconcilePointer(ctx context.Context, pk string) (bool, error) {
	raw, err := w.client.Get(ctx, pk).Result()
	if errors.Is(err, redis.Nil) {
		if err := w.index.Unmark(ctx, KindPointers, pk); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, storeErr("sweep pointer", err)
	}

	connectionID := strings.TrimPrefix(pk, pointerKeyPrefix)

	ptr, err := decodePointer(raw)
	if err != nil {
		// Malformed pointer payload: delete defensively.
		return true, w.dropPointer(ctx, pk)
	}

	raws, err := w.client.LRange(ctx, listKey(ptr.UserID, ptr.Room), 0, -1).Result()
	if err != nil {
		return false, storeErr("sweep pointer", err)
	}
	for _, entry := range raws {
		sess, err := decodeSession(entry)
		if err != nil {
			continue
		}
		if sess.ConnectionID == connectionID {
			return false, nil
		}
	}

	return true, w.dropPointer(ctx, pk)
}

func (w *Sweeper) dropPointer(ctx context.Context, pk string) error {
	pipe := w.client.Pipeline()
	pipe.Del(ctx, pk)
	w.index.unmarkPipe(ctx, pipe, KindPointers, pk)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("sweep pointer", err)
	}
	return nil
}
