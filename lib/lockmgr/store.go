package lockmgr

import (
	"bytes"
	"time"

	"github.com/ValentinKolb/dStudy/lib/kv"
)

type storeLockImpl struct {
	store kv.IStore
}

// NewLockManager creates a lock manager that keeps its locks in the given
// key-value store. All processes sharing the store share the locks.
func NewLockManager(store kv.IStore) ILockManager {
	return &storeLockImpl{
		store: store,
	}
}

func (lp *storeLockImpl) AcquireLock(key string, timeout time.Duration) (bool, []byte, error) {
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}

	// Try to acquire the lock (by setting the value only if it doesn't exist - atomic CAS operation)
	if err := lp.store.SetIfUnset(key, ownerID, timeout); err != nil {
		log.Warningf("lockmgr: failed to set lock %s: %v", key, err)
		return false, nil, err
	}

	// Check if the lock was acquired
	value, found, err := lp.store.Get(key)
	if err != nil {
		return false, nil, err
	}

	// Return true if lock was acquired BY US
	if found && bytes.Equal(value, ownerID) {
		return true, ownerID, nil
	}
	// Return false if lock is held BY SOMEONE ELSE
	return false, nil, nil
}

func (lp *storeLockImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	// Compare and delete in one step: the lock may have expired and been
	// taken by another owner since we acquired it.
	return lp.store.DeleteIfEqual(key, ownerID)
}
