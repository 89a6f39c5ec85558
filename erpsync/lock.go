package erpsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"github.com/bsm/redislock"
)

// lockTTL outlives the run deadline so a crashed worker cannot leave a
// lock that blocks the next run forever.
const lockTTL = 6 * time.Minute

var ErrLockHeld = errors.New("sync lock held by another worker")

// acquireSyncLock takes the per-type Redis mutex. The ledger running-check
// is the primary exclusivity guard; the lock closes the window between two
// workers passing that check at the same moment. When Redis is not
// configured the ledger check stands alone.
func acquireSyncLock(ctx context.Context, syncType string) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}

	key := fmt.Sprintf("erpsync:lock:%s", syncType)
	lock, err := locker.Obtain(ctx, key, lockTTL, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrLockHeld
		}
		return nil, err
	}
	return lock, nil
}

func releaseSyncLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	_ = lock.Release(ctx)
}
