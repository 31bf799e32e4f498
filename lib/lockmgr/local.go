package lockmgr

import (
	"bytes"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type localLockImpl struct {
	owners *xsync.MapOf[string, []byte]
}

// NewLocalLockManager creates a lock manager whose locks are only visible
// inside the current process. The timeout of AcquireLock is ignored: a
// holder can not disappear without its process.
func NewLocalLockManager() ILockManager {
	return &localLockImpl{
		owners: xsync.NewMapOf[string, []byte](),
	}
}

func (l *localLockImpl) AcquireLock(key string, _ time.Duration) (bool, []byte, error) {
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}
	if _, loaded := l.owners.LoadOrStore(key, ownerID); loaded {
		return false, nil, nil
	}
	return true, ownerID, nil
}

func (l *localLockImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	released := true
	l.owners.Compute(key, func(current []byte, loaded bool) ([]byte, bool) {
		if !loaded {
			// nothing to release, do not create the key
			return nil, true
		}
		if !bytes.Equal(current, ownerID) {
			released = false
			return current, false
		}
		return nil, true
	})
	return released, nil
}
