package local

import (
	"context"
	"testing"
	"time"

	"update-runner/internal/domain"

	"github.com/stretchr/testify/require"
)

// TestProcessLocker_Serializes: the second lock attempt is refused, not queued.
func TestProcessLocker_Serializes(t *testing.T) {
	t.Parallel()
	locker := NewProcessLocker()
	ctx := context.Background()

	lock, err := locker.Lock(ctx, "quarterly-update")
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "quarterly-update")
	require.ErrorIs(t, err, domain.ErrLockNotAcquired)

	// Unrelated names are independent locks.
	other, err := locker.Lock(ctx, "annual-update")
	require.NoError(t, err)
	require.NoError(t, other.Unlock(ctx))

	require.NoError(t, lock.Unlock(ctx))
	relock, err := locker.Lock(ctx, "quarterly-update")
	require.NoError(t, err)
	require.NoError(t, relock.Unlock(ctx))
}

func testRun(id string, start time.Time) *domain.Run {
	return &domain.Run{
		ID:        id,
		JobName:   "quarterly-update",
		Trigger:   domain.TriggerManual,
		Status:    domain.RunStatusSucceeded,
		StartTime: start,
	}
}

// TestMemoryRunRepository_GetNotFound returns the sentinel for unknown IDs.
func TestMemoryRunRepository_GetNotFound(t *testing.T) {
	t.Parallel()
	repo := NewMemoryRunRepository()
	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

// TestMemoryRunRepository_ListRecent returns newest first with pagination.
func TestMemoryRunRepository_ListRecent(t *testing.T) {
	t.Parallel()
	repo := NewMemoryRunRepository()
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Save(ctx, testRun(id, base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err := repo.ListRecent(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "c", runs[0].ID)
	require.Equal(t, "b", runs[1].ID)

	runs, err = repo.ListRecent(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "a", runs[0].ID)

	runs, err = repo.ListRecent(ctx, 3, 2)
	require.NoError(t, err)
	require.Empty(t, runs)
}

// TestMemoryRunRepository_SaveValidates rejects incomplete records.
func TestMemoryRunRepository_SaveValidates(t *testing.T) {
	t.Parallel()
	repo := NewMemoryRunRepository()
	require.Error(t, repo.Save(context.Background(), &domain.Run{}))
}
