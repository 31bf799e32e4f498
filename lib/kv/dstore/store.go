package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dStudy/lib/common"
	"github.com/ValentinKolb/dStudy/lib/kv"
	"github.com/ValentinKolb/dStudy/lib/kv/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger(common.LoggerKV)
)

// storeImpl encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	owned   bool // stop the NodeHost on Close
	now     func() time.Time
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes. The NodeHost is owned by the caller and is not stopped by Close.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) kv.IStore {
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
		now:     time.Now,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and sends it via SyncPropose.
// It returns a *kv.Error if an error occurs, or nil on success.
func (s *storeImpl) write(cmd internal.Command) error {
	cmd.IssuedAt = s.now().UnixMilli()
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		res, err := s.nh.SyncPropose(ctx, s.cs, cmd.Serialize())
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			return kv.NewError(kv.RetCInternalError, err.Error())
		}
		if res.Value != uint64(kv.RetCSuccess) {
			return kv.NewError(kv.RetCode(res.Value), string(res.Data))
		}
		return nil
	}
	return kv.NewError(kv.RetCInternalError, "timeout")
}

// read queries the state machine with a linearizable SyncRead (or a StaleRead if stale is set)
// and converts the response into the expected type R. System busy errors are retried.
func read[R any](s *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {
		var res interface{}
		var err error

		if stale {
			res, err = s.nh.StaleRead(s.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			res, err = s.nh.SyncRead(ctx, s.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			var kvErr *kv.Error
			if errors.As(err, &kvErr) {
				return zero, kvErr
			}
			return zero, kv.NewError(kv.RetCInternalError, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, kv.NewError(kv.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, kv.NewError(kv.RetCInternalError, "timeout")
}

// Size returns the number of keys held by the local replica (stale read).
func Size(store kv.IStore) (int, error) {
	s, ok := store.(*storeImpl)
	if !ok {
		return 0, kv.NewError(kv.RetCUnsupportedOperation, "not a distributed store")
	}
	return read[int](s, internal.Query{Type: internal.QueryTSize}, true)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see kv/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	return s.write(internal.Command{
		Type:  internal.CommandTSet,
		Key:   key,
		Value: value,
	})
}

func (s *storeImpl) SetIfUnset(key string, value []byte, ttl time.Duration) error {
	cmd := internal.Command{
		Type:  internal.CommandTSetIfUnset,
		Key:   key,
		Value: value,
	}
	if ttl > 0 {
		cmd.DeleteAt = s.now().Add(ttl).UnixMilli()
	}
	return s.write(cmd)
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	res, err := read[internal.QueryResult](s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return nil, false, err
	}
	return res.Value, res.Ok, nil
}

func (s *storeImpl) Delete(key string) error {
	return s.write(internal.Command{
		Type: internal.CommandTDelete,
		Key:  key,
	})
}

func (s *storeImpl) DeleteIfEqual(key string, value []byte) (bool, error) {
	err := s.write(internal.Command{
		Type:  internal.CommandTDeleteIfEqual,
		Key:   key,
		Value: value,
	})
	if kv.IsCode(err, kv.RetCValueMismatch) {
		return false, nil
	}
	return err == nil, err
}

func (s *storeImpl) Close() error {
	if s.owned {
		s.nh.Close()
	}
	return nil
}
