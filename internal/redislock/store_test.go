package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealroom/api/internal/editlock"
	"dealroom/api/internal/editlock/editlocktest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, ""), server
}

func TestRedisStoreConformance(t *testing.T) {
	editlocktest.Run(t, func(t *testing.T) editlocktest.Fixture {
		store, _ := newTestStore(t)
		return editlocktest.Fixture{
			Store: store,
			OrgA:  "org-a",
			OrgB:  "org-b",
			Alice: editlock.Holder{UserID: "user-a", DisplayName: "Alice Chen"},
			Bob:   editlock.Holder{UserID: "user-b", DisplayName: "Bob Okafor"},
		}
	})
}

func TestClaimWritesHashAndIndexes(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	key := editlock.Key{OrganizationID: "org-a", EntityType: editlock.EntityLP, EntityID: "lp-7"}

	lock, claimed, err := store.Claim(ctx, editlock.Lock{
		EntityType:        key.EntityType,
		EntityID:          key.EntityID,
		OrganizationID:    key.OrganizationID,
		HolderUserID:      "user-a",
		HolderDisplayName: "Alice Chen",
		AcquiredAt:        now,
		RenewedAt:         now,
	}, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)
	assert.True(t, lock.AcquiredAt.Equal(now))

	hashKey := "dealroom:locks:lock:org-a:lp:lp-7"
	assert.Equal(t, "user-a", server.HGet(hashKey, "holder"))
	assert.Equal(t, "Alice Chen", server.HGet(hashKey, "name"))
	assert.Equal(t, "1772442000000", server.HGet(hashKey, "renewed"))
	assert.Equal(t, time.Hour, server.TTL(hashKey))

	members, err := server.Members("dealroom:locks:org:org-a")
	require.NoError(t, err)
	assert.Equal(t, []string{hashKey}, members)
	orgs, err := server.Members("dealroom:locks:orgs")
	require.NoError(t, err)
	assert.Equal(t, []string{"org-a"}, orgs)
}

func TestListActivePrunesVanishedLocks(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	for _, id := range []string{"d-1", "d-2"} {
		_, _, err := store.Claim(ctx, editlock.Lock{
			EntityType:     editlock.EntityDeal,
			EntityID:       id,
			OrganizationID: "org-a",
			HolderUserID:   "user-a",
			AcquiredAt:     now,
			RenewedAt:      now,
		}, now.Add(-30*time.Minute))
		require.NoError(t, err)
	}
	server.Del("dealroom:locks:lock:org-a:deal:d-1")

	locks, err := store.ListActive(ctx, "org-a", now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "d-2", locks[0].EntityID)

	members, err := server.Members("dealroom:locks:org:org-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"dealroom:locks:lock:org-a:deal:d-2"}, members)
}

func TestSweepPrunesEmptyOrganizations(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, _, err := store.Claim(ctx, editlock.Lock{
		EntityType:     editlock.EntityContact,
		EntityID:       "c-1",
		OrganizationID: "org-b",
		HolderUserID:   "user-b",
		AcquiredAt:     now,
		RenewedAt:      now,
	}, now.Add(-30*time.Minute))
	require.NoError(t, err)

	removed, err := store.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.False(t, server.Exists("dealroom:locks:org:org-b"))
	assert.False(t, server.Exists("dealroom:locks:orgs"))
}
