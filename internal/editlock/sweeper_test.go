package editlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSweeperRemovesExpiredLocks(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewMemoryStore()
	stale := time.Now().UTC().Add(-2 * time.Hour)
	_, _, err := store.Claim(context.Background(), Lock{
		EntityType:     EntityLP,
		EntityID:       "lp-9",
		OrganizationID: "org-1",
		HolderUserID:   "user-a",
		AcquiredAt:     stale,
		RenewedAt:      stale,
	}, stale.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	sweeper := NewSweeper(NewManager(store, time.Minute), 10*time.Millisecond)
	sweeper.Start(context.Background())
	sweeper.Start(context.Background())

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	sweeper.Stop()
	sweeper.Stop()
}

func TestSweeperDisabledWithoutInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	sweeper := NewSweeper(NewManager(NewMemoryStore(), time.Minute), 0)
	sweeper.Start(context.Background())
	assert.Nil(t, sweeper.cancel)
	sweeper.Stop()
}

func TestSweeperStopsWithParentContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	sweeper := NewSweeper(NewManager(NewMemoryStore(), time.Minute), time.Hour)
	sweeper.Start(ctx)
	cancel()
	sweeper.Stop()
}
