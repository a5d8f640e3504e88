package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trakwell-ai/websocket-notify/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) (*miniredis.Miniredis, *goredis.Client, *Store, *Index) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	index := NewIndex(client, time.Hour)
	store := NewStore(client, index, time.Hour)
	return mr, client, store, index
}

func TestRegisterLookupRoundTrip(t *testing.T) {
	_, client, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPrivate, "conn-1"))

	sessions, err := store.Lookup(ctx, "alice", RoomPrivate)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "conn-1", sessions[0].ConnectionID)
	assert.Equal(t, RoomPrivate, sessions[0].Room)

	// Both keys and both index marks must exist after a register.
	assert.Equal(t, int64(1), client.Exists(ctx, "session:conn-1").Val())
	assert.Equal(t, int64(1), client.Exists(ctx, "sessions:ALICE:PRIVATE").Val())
	assert.True(t, client.SIsMember(ctx, "active:sessions", "session:conn-1").Val())
	assert.True(t, client.SIsMember(ctx, "active:sessionlists", "sessions:ALICE:PRIVATE").Val())
}

func TestRegisterSetsTTL(t *testing.T) {
	_, client, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPublic, "conn-1"))

	assert.Greater(t, client.TTL(ctx, "session:conn-1").Val(), time.Duration(0))
	assert.Greater(t, client.TTL(ctx, "sessions:ALICE:PUBLIC").Val(), time.Duration(0))
	assert.Greater(t, client.TTL(ctx, "active:sessionlists").Val(), time.Duration(0))
}

func TestLookupMissingUserIsEmpty(t *testing.T) {
	_, _, store, _ := newTestStore(t)

	sessions, err := store.Lookup(context.Background(), "ghost", RoomPrivate)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestLookupReconcilesIndex(t *testing.T) {
	_, client, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPrivate, "conn-1"))
	require.NoError(t, client.Del(ctx, "active:sessionlists").Err())

	_, err := store.Lookup(ctx, "alice", RoomPrivate)
	require.NoError(t, err)

	assert.True(t, client.SIsMember(ctx, "active:sessionlists", "sessions:ALICE:PRIVATE").Val())
}

func TestRemoveIsIdempotent(t *testing.T) {
	_, client, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPrivate, "conn-1"))

	res, err := store.Remove(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, res.Removed)

	res, err = store.Remove(ctx, "conn-1")
	require.NoError(t, err)
	assert.False(t, res.Removed)
	assert.Equal(t, "not found", res.Reason)

	assert.Equal(t, int64(0), client.Exists(ctx, "session:conn-1").Val())
	assert.Equal(t, int64(0), client.Exists(ctx, "sessions:ALICE:PRIVATE").Val())
}

func TestRemoveKeepsSiblingSessions(t *testing.T) {
	_, _, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPrivate, "conn-1"))
	require.NoError(t, store.Register(ctx, "alice", RoomPrivate, "conn-2"))

	res, err := store.Remove(ctx, "conn-1")
	require.NoError(t, err)
	require.True(t, res.Removed)

	sessions, err := store.Lookup(ctx, "alice", RoomPrivate)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "conn-2", sessions[0].ConnectionID)
}

func TestRemoveUnmarksEmptiedList(t *testing.T) {
	_, client, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPrivate, "conn-1"))

	res, err := store.Remove(ctx, "conn-1")
	require.NoError(t, err)
	require.True(t, res.Removed)

	assert.False(t, client.SIsMember(ctx, "active:sessionlists", "sessions:ALICE:PRIVATE").Val())
	assert.False(t, client.SIsMember(ctx, "active:sessions", "session:conn-1").Val())
}

func TestPublicSessionsViaIndex(t *testing.T) {
	_, _, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPublic, "conn-1"))
	require.NoError(t, store.Register(ctx, "bob", RoomPublic, "conn-2"))
	require.NoError(t, store.Register(ctx, "carol", RoomPrivate, "conn-3"))

	sessions, err := store.PublicSessions(ctx)
	require.NoError(t, err)

	ids := connectionIDs(sessions)
	assert.ElementsMatch(t, []string{"conn-1", "conn-2"}, ids)
}

func TestPublicSessionsSelfHealing(t *testing.T) {
	_, client, store, index := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPublic, "conn-1"))
	require.NoError(t, store.Register(ctx, "bob", RoomPublic, "conn-2"))

	before, err := store.PublicSessions(ctx)
	require.NoError(t, err)

	// Blow away both tracking sets; the scan fallback and Rebuild must
	// produce the same result set.
	require.NoError(t, client.Del(ctx, "active:sessions", "active:sessionlists").Err())

	require.NoError(t, index.Rebuild(ctx))

	after, err := store.PublicSessions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, connectionIDs(before), connectionIDs(after))
}

func TestPublicSessionsScanFallback(t *testing.T) {
	_, client, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPublic, "conn-1"))
	require.NoError(t, client.Del(ctx, "active:sessionlists").Err())

	sessions, err := store.PublicSessions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conn-1"}, connectionIDs(sessions))

	// The fallback repopulates the tracking set for the next caller.
	assert.True(t, client.SIsMember(ctx, "active:sessionlists", "sessions:ALICE:PUBLIC").Val())
}

func TestLookupSkipsMalformedEntries(t *testing.T) {
	_, client, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPrivate, "conn-1"))
	require.NoError(t, client.RPush(ctx, "sessions:ALICE:PRIVATE", "not json").Err())

	sessions, err := store.Lookup(ctx, "alice", RoomPrivate)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "conn-1", sessions[0].ConnectionID)
}

func TestStats(t *testing.T) {
	_, _, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPublic, "conn-1"))
	require.NoError(t, store.Register(ctx, "bob", RoomPublic, "conn-2"))
	require.NoError(t, store.Register(ctx, "carol", RoomPrivate, "conn-3"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RoomStat{
		{Room: "PRIVATE", Count: 1},
		{Room: "PUBLIC", Count: 2},
	}, stats)
}

func TestStatsScanFallback(t *testing.T) {
	_, client, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPublic, "conn-1"))
	require.NoError(t, store.Register(ctx, "bob", RoomPublic, "conn-2"))
	require.NoError(t, store.Register(ctx, "carol", RoomPrivate, "conn-3"))
	require.NoError(t, client.Del(ctx, "active:sessionlists").Err())

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RoomStat{
		{Room: "PRIVATE", Count: 1},
		{Room: "PUBLIC", Count: 2},
	}, stats)

	// The fallback repopulates the tracking set for the next caller.
	assert.True(t, client.SIsMember(ctx, "active:sessionlists", "sessions:ALICE:PUBLIC").Val())
	assert.True(t, client.SIsMember(ctx, "active:sessionlists", "sessions:CAROL:PRIVATE").Val())
}

func TestRemoveDeletesMalformedPointer(t *testing.T) {
	_, client, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "session:conn-1", "not json", time.Hour).Err())
	require.NoError(t, client.SAdd(ctx, "active:sessions", "session:conn-1").Err())

	res, err := store.Remove(ctx, "conn-1")
	require.NoError(t, err)
	assert.False(t, res.Removed)
	assert.Equal(t, "malformed record", res.Reason)

	// The unparseable pointer is gone along with its index mark.
	assert.Equal(t, int64(0), client.Exists(ctx, "session:conn-1").Val())
	assert.False(t, client.SIsMember(ctx, "active:sessions", "session:conn-1").Val())
}

func TestStoreUnavailable(t *testing.T) {
	mr, _, store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "alice", RoomPrivate, "conn-1"))
	mr.Close()

	err := store.Register(ctx, "bob", RoomPrivate, "conn-2")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.Lookup(ctx, "alice", RoomPrivate)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.Remove(ctx, "conn-1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func connectionIDs(sessions []Session) []string {
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ConnectionID)
	}
	return ids
}
