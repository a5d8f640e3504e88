package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trakwell-ai/websocket-notify/internal/logger"
)

// Store provides CRUD over per-(user, room) session lists and per-connection
// session pointers, backed by Redis and indexed by the presence Index.
//
// None of the multi-key writes are transactional as a whole: a register is a
// single pipelined batch, but concurrent batches on the same list interleave
// at the granularity of individual appends, which is safe because appends
// commute. Drift from the non-atomic pointer/list pair is reconciled by the
// Sweeper's orphan pass.
type Store struct {
	client *redis.Client
	index  *Index
	ttl    time.Duration
}

func NewStore(client *redis.Client, index *Index, ttl time.Duration) *Store {
	return &Store{client: client, index: index, ttl: ttl}
}

// Register appends a session to the (userID, room) list, writes the reverse
// pointer for connectionID, refreshes TTL on both and records both keys in
// the presence index. All writes go out as one pipelined batch.
func (s *Store) Register(ctx context.Context, userID string, room Room, connectionID string) error {
	if userID == "" || connectionID == "" {
		return fmt.Errorf("session: missing user id or connection id")
	}

	entry, err := encodeSession(Session{
		Room:         room,
		ConnectionID: connectionID,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return err
	}
	ptr, err := encodePointer(Pointer{UserID: userID, Room: room})
	if err != nil {
		return err
	}

	lk := listKey(userID, room)
	pk := pointerKey(connectionID)

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, lk, entry)
	pipe.Expire(ctx, lk, s.ttl)
	pipe.Set(ctx, pk, ptr, s.ttl)
	s.index.markPipe(ctx, pipe, KindPointers, pk)
	s.index.markPipe(ctx, pipe, KindLists, lk)

	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("register", err)
	}
	return nil
}

// Lookup returns the sessions for one concrete (userID, room) pair. A
// successful lookup refreshes TTL on the list and reconciles it back into
// the presence index if absent. Entries that fail to parse are skipped.
//
// The reserved ALL/public pseudo-identity is resolved at the dispatch
// boundary into PublicSessions; it never reaches this method.
func (s *Store) Lookup(ctx context.Context, userID string, room Room) ([]Session, error) {
	lk := listKey(userID, room)

	raws, err := s.client.LRange(ctx, lk, 0, -1).Result()
	if err != nil {
		return nil, storeErr("lookup", err)
	}
	if len(raws) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	pipe.Expire(ctx, lk, s.ttl)
	s.index.markPipe(ctx, pipe, KindLists, lk)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storeErr("lookup refresh", err)
	}

	return s.decodeAll(lk, raws), nil
}

// PublicSessions returns every session currently in the public room,
// resolving list keys via the presence index with a scan-based fallback if
// the index is missing.
func (s *Store) PublicSessions(ctx context.Context) ([]Session, error) {
	keys, err := s.publicListKeys(ctx)
	if err != nil {
		return nil, err
	}

	var all []Session
	for _, lk := range keys {
		raws, err := s.client.LRange(ctx, lk, 0, -1).Result()
		if err != nil {
			return nil, storeErr("public lookup", err)
		}
		if len(raws) == 0 {
			continue
		}
		if err := s.client.Expire(ctx, lk, s.ttl).Err(); err != nil {
			return nil, storeErr("public lookup refresh", err)
		}
		all = append(all, s.decodeAll(lk, raws)...)
	}
	return all, nil
}

// publicListKeys enumerates live public-room list keys.
func (s *Store) publicListKeys(ctx context.Context) ([]string, error) {
	suffix := ":" + strings.ToUpper(string(RoomPublic))

	members, err := s.liveListKeys(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range members {
		if strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// liveListKeys enumerates every live session-list key. The tracking set is
// preferred; if it does not exist yet the authoritative keys are scanned once
// and the set is repopulated from what was found.
func (s *Store) liveListKeys(ctx context.Context) ([]string, error) {
	exists, err := s.index.Exists(ctx, KindLists)
	if err != nil {
		return nil, err
	}
	if exists {
		return s.index.Members(ctx, KindLists)
	}

	keys, err := s.index.scanKeys(ctx, listKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		pipe := s.client.Pipeline()
		pipe.SAdd(ctx, listSetKey, toAnySlice(keys)...)
		pipe.Expire(ctx, listSetKey, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, storeErr("list reconcile", err)
		}
	}
	return keys, nil
}

// Remove resolves the pointer for connectionID and deletes the pointer, the
// matching list entry and, when the list empties, its presence-index mark.
//
// The pointer delete is conditional: the key is watched and the transaction
// no-ops if its value changed between read and delete, so a remove racing a
// re-register of the same connection cannot destroy the newer registration.
func (s *Store) Remove(ctx context.Context, connectionID string) (RemoveResult, error) {
	pk := pointerKey(connectionID)

	raw, err := s.client.Get(ctx, pk).Result()
	if errors.Is(err, redis.Nil) {
		return RemoveResult{Removed: false, Reason: "not found"}, nil
	}
	if err != nil {
		return RemoveResult{}, storeErr("remove", err)
	}

	ptr, err := decodePointer(raw)
	if err != nil {
		// Defensive deletion: an unparseable pointer is treated as already
		// expired. The list entry, if any, is left to the sweeper.
		logger.Warn("deleting malformed session pointer", map[string]any{
			"key":   pk,
			"error": err.Error(),
		})
		pipe := s.client.Pipeline()
		pipe.Del(ctx, pk)
		s.index.unmarkPipe(ctx, pipe, KindPointers, pk)
		if _, err := pipe.Exec(ctx); err != nil {
			return RemoveResult{}, storeErr("remove", err)
		}
		return RemoveResult{Removed: false, Reason: "malformed record"}, nil
	}

	lk := listKey(ptr.UserID, ptr.Room)

	entries, err := s.client.LRange(ctx, lk, 0, -1).Result()
	if err != nil {
		return RemoveResult{}, storeErr("remove", err)
	}

	// Find the exact stored entry so LREM can match it verbatim.
	var target string
	for _, entry := range entries {
		sess, err := decodeSession(entry)
		if err != nil {
			continue
		}
		if sess.ConnectionID == connectionID {
			target = entry
			break
		}
	}

	removed := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, pk).Result()
		if errors.Is(err, redis.Nil) {
			return nil // already gone
		}
		if err != nil {
			return err
		}
		if cur != raw {
			return nil // superseded by a concurrent write; leave it alone
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if target != "" {
				pipe.LRem(ctx, lk, 1, target)
			}
			pipe.Del(ctx, pk)
			s.index.unmarkPipe(ctx, pipe, KindPointers, pk)
			return nil
		})
		if err == nil {
			removed = true
		}
		return err
	}, pk)
	if errors.Is(err, redis.TxFailedErr) {
		return RemoveResult{Removed: false, Reason: "superseded"}, nil
	}
	if err != nil {
		return RemoveResult{}, storeErr("remove", err)
	}
	if !removed {
		return RemoveResult{Removed: false, Reason: "not found"}, nil
	}

	// Redis drops an emptied list automatically; re-reading its length right
	// before unmarking keeps a concurrent append from losing its index entry.
	n, err := s.client.LLen(ctx, lk).Result()
	if err != nil {
		return RemoveResult{Removed: true}, storeErr("remove", err)
	}
	if n == 0 {
		if err := s.index.Unmark(ctx, KindLists, lk); err != nil {
			return RemoveResult{Removed: true}, err
		}
	}

	return RemoveResult{Removed: true}, nil
}

// Stats counts stored sessions per room by enumerating live list keys and
// summing list lengths. Like PublicSessions it survives a missing tracking
// set by falling back to a scan.
func (s *Store) Stats(ctx context.Context) ([]RoomStat, error) {
	keys, err := s.liveListKeys(ctx)
	if err != nil {
		return nil, err
	}

	counts := map[string]int64{}
	for _, lk := range keys {
		room, ok := roomFromListKey(lk)
		if !ok {
			continue
		}
		n, err := s.client.LLen(ctx, lk).Result()
		if err != nil {
			return nil, storeErr("stats", err)
		}
		counts[room] += n
	}

	stats := make([]RoomStat, 0, len(counts))
	for room, n := range counts {
		stats = append(stats, RoomStat{Room: room, Count: n})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Room < stats[j].Room })
	return stats, nil
}

func (s *Store) decodeAll(lk string, raws []string) []Session {
	sessions := make([]Session, 0, len(raws))
	for _, raw := range raws {
		sess, err := decodeSession(raw)
		if err != nil {
			logger.Warn("skipping malformed session entry", map[string]any{
				"key":   lk,
				"error": err.Error(),
			})
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions
}
