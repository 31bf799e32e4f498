package lockmgr

import "time"

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock tries to acquire the lock for the given key. It never waits:
	// if the lock is held by someone else it returns ok=false immediately.
	// A timeout > 0 releases the lock automatically after the given duration
	// (where the implementation supports it), which protects against holders
	// that crash.
	// Returns whether the lock was acquired, the owner ID needed to release it, and an error if any.
	AcquireLock(key string, timeout time.Duration) (ok bool, ownerID []byte, err error)

	// ReleaseLock releases the lock for the given key if ownerID still owns it.
	// Returns whether the lock was released, and an error if any.
	// The method also returns true if the lock did not exist.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)
}
