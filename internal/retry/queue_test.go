package retry

import (
	"errors"
	"testing"

	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/rng"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAssignsMonotoneIDAndDueImmediately(t *testing.T) {
	u := domain.NewUser("owner-1")
	item1 := Enqueue(u, 100, domain.RetryEscrowRelease, 1, 2, nil)
	item2 := Enqueue(u, 100, domain.RetryEscrowRelease, 1, 3, nil)

	assert.Equal(t, uint64(1), item1.ID)
	assert.Equal(t, uint64(2), item2.ID)
	assert.Equal(t, uint64(100), item1.NextAttemptAfter)
	assert.False(t, item1.Terminal)
}

func TestDueItemsOnlyReturnsElapsedNonTerminal(t *testing.T) {
	u := domain.NewUser("owner-1")
	due := Enqueue(u, 100, domain.RetryEscrowRelease, 1, 2, nil)
	notYetDue := Enqueue(u, 100, domain.RetryEscrowRelease, 1, 3, nil)
	notYetDue.NextAttemptAfter = 500

	items := DueItems(u, 200, 5)
	require.Len(t, items, 1)
	assert.Equal(t, due.ID, items[0].ID)
	assert.Equal(t, 1, items[0].Attempts)

	// DueItems emits a RetryAttempt audit event per collected item.
	found := false
	for _, ev := range u.AuditLog {
		if ev.Kind == domain.EventRetryAttempt {
			found = true
		}
	}
	assert.True(t, found)
}

func TestResolveSuccessMarksTerminalAndRecordsSuccess(t *testing.T) {
	u := domain.NewUser("owner-1")
	item := Enqueue(u, 100, domain.RetryBridgePoll, 1, 2, nil)
	item.Attempts = 1

	err := Resolve(u, nil, 150, item, 5, nil)
	require.NoError(t, err)
	assert.True(t, item.Terminal)
	assert.True(t, item.Succeeded)

	s := u.AdaptiveStats[domain.RetryBridgePoll.String()]
	require.NotNil(t, s)
	assert.Equal(t, 1, s.Successes)
}

func TestResolveFailureReschedulesUntilMaxAttempts(t *testing.T) {
	u := domain.NewUser("owner-1")
	item := Enqueue(u, 100, domain.RetryBridgeSubmit, 1, 2, nil)
	item.Attempts = 1

	err := Resolve(u, nil, 150, item, 5, errors.New("boom"))
	require.NoError(t, err)
	assert.False(t, item.Terminal)
	assert.Equal(t, "boom", item.LastError)
	assert.Greater(t, item.NextAttemptAfter, uint64(150))
}

func TestResolveFailureAtMaxAttemptsGoesTerminal(t *testing.T) {
	u := domain.NewUser("owner-1")
	item := Enqueue(u, 100, domain.RetryBridgeSubmit, 1, 2, nil)
	item.Attempts = 5

	err := Resolve(u, nil, 150, item, 5, errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, item.Terminal)
	assert.False(t, item.Succeeded)

	found := false
	for _, ev := range u.AuditLog {
		if ev.Kind == domain.EventRetryTerminal {
			found = true
		}
	}
	assert.True(t, found)
}

func TestNextDelayAppliesJitterWithinBounds(t *testing.T) {
	u := domain.NewUser("owner-1")
	src, err := rng.NewSource()
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		d, err := nextDelay(u, src, domain.RetryEscrowRelease, 2)
		require.NoError(t, err)
		// base(attempts=2)=120s at neutral 1.0x factor, +/-20% jitter.
		assert.GreaterOrEqual(t, d, uint64(96))
		assert.LessOrEqual(t, d, uint64(144))
	}
}

func TestForceRetryBypassesBackoffOnlyForLiveItem(t *testing.T) {
	u := domain.NewUser("owner-1")
	item := Enqueue(u, 100, domain.RetryEscrowRelease, 1, 2, nil)
	item.NextAttemptAfter = 9999
	item.Terminal = false

	ok := ForceRetry(u, 300, item.ID)
	assert.True(t, ok)
	assert.Equal(t, uint64(300), item.NextAttemptAfter)

	assert.False(t, ForceRetry(u, 300, 99999))
}

func TestForceAllDueCountsOnlyNonTerminal(t *testing.T) {
	u := domain.NewUser("owner-1")
	a := Enqueue(u, 100, domain.RetryEscrowRelease, 1, 2, nil)
	a.NextAttemptAfter = 9999
	b := Enqueue(u, 100, domain.RetryEscrowRelease, 1, 3, nil)
	b.Terminal = true

	n := ForceAllDue(u, 500)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(500), a.NextAttemptAfter)
}

func TestPruneDropsOldestNonTerminalBeyondDepthCap(t *testing.T) {
	u := domain.NewUser("owner-1")
	for i := 0; i < PruneMaxNonTerminal+10; i++ {
		Enqueue(u, uint64(i), domain.RetryEscrowRelease, 1, uint64(i), nil)
	}
	Prune(u, 100000)
	nonTerminal := 0
	for _, item := range u.RetryQueue {
		if !item.Terminal {
			nonTerminal++
		}
	}
	assert.Equal(t, PruneMaxNonTerminal, nonTerminal)
	// The surviving items should be the most recently created ones.
	assert.Equal(t, uint64(10), u.RetryQueue[0].CreatedAt)
}

func TestPruneDropsAgedTerminalItems(t *testing.T) {
	u := domain.NewUser("owner-1")
	old := Enqueue(u, 0, domain.RetryEscrowRelease, 1, 2, nil)
	old.Terminal = true
	old.Succeeded = false

	fresh := Enqueue(u, 100, domain.RetryEscrowRelease, 1, 3, nil)
	fresh.Terminal = true

	Prune(u, PruneTerminalAgeSecs+200)

	ids := map[uint64]bool{}
	for _, item := range u.RetryQueue {
		ids[item.ID] = true
	}
	assert.False(t, ids[old.ID])
}

func TestPruneDropsSuccessfulTerminalSooner(t *testing.T) {
	u := domain.NewUser("owner-1")
	succeeded := Enqueue(u, 0, domain.RetryEscrowRelease, 1, 2, nil)
	succeeded.Terminal = true
	succeeded.Succeeded = true

	Prune(u, PruneSuccessfulTerminalAgeSecs+10)

	assert.Empty(t, u.RetryQueue)
}

func TestPruneKeepsMostRecentTerminalPerKind(t *testing.T) {
	u := domain.NewUser("owner-1")
	for i := 0; i < PruneMaxTerminalPerKind+5; i++ {
		item := Enqueue(u, 100, domain.RetryBridgePoll, 1, uint64(i), nil)
		item.Terminal = true
		item.Succeeded = false
	}
	Prune(u, 200)

	terminalCount := 0
	for _, item := range u.RetryQueue {
		if item.Terminal {
			terminalCount++
		}
	}
	assert.Equal(t, PruneMaxTerminalPerKind, terminalCount)
}
