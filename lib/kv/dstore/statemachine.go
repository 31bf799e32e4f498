package dstore

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dStudy/lib/kv"
	"github.com/ValentinKolb/dStudy/lib/kv/dstore/internal"
	"github.com/ValentinKolb/dStudy/lib/serializer"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// SnapshotEntry is a single key of a state machine snapshot.
type SnapshotEntry struct {
	Value    []byte
	DeleteAt int64 // unix milliseconds, 0 = never
}

func (e SnapshotEntry) deleted(nowMillis int64) bool {
	return e.DeleteAt != 0 && nowMillis >= e.DeleteAt
}

// KVStateMachine is a state machine implementation for Dragonboat RAFT
type KVStateMachine struct {
	replicaID  uint64
	shardID    uint64
	data       *xsync.MapOf[string, SnapshotEntry]
	serializer serializer.IRecordSerializer
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host
func CreateStateMachineFactory() func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &KVStateMachine{
			replicaID:  replicaID,
			shardID:    shardID,
			data:       xsync.NewMapOf[string, SnapshotEntry](),
			serializer: serializer.NewGOBSerializer(),
		}
	}
}

// Lookup handles read-only queries.
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, kv.NewError(kv.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTGet:
		e, ok := fsm.data.Load(q.Key)
		if !ok || e.deleted(time.Now().UnixMilli()) {
			return internal.QueryResult{}, nil
		}
		return internal.QueryResult{
			Value: append([]byte(nil), e.Value...),
			Ok:    true,
		}, nil
	case internal.QueryTSize:
		return fsm.data.Size(), nil
	default:
		return nil, kv.NewError(kv.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update applies committed commands. All replicas evaluate expiry against
// the IssuedAt timestamp of the command, so every replica reaches the same state.
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(kv.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}

		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(kv.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}

		switch cmd.Type {
		case internal.CommandTSet:
			fsm.data.Store(cmd.Key, SnapshotEntry{Value: cmd.Value, DeleteAt: cmd.DeleteAt})
			entries[idx].Result = sm.Result{
				Value: uint64(kv.RetCSuccess),
				Data:  []byte(fmt.Sprintf("set: key=%s", cmd.Key)),
			}
		case internal.CommandTSetIfUnset:
			fsm.data.Compute(cmd.Key, func(old SnapshotEntry, loaded bool) (SnapshotEntry, bool) {
				if loaded && !old.deleted(cmd.IssuedAt) {
					return old, false
				}
				return SnapshotEntry{Value: cmd.Value, DeleteAt: cmd.DeleteAt}, false
			})
			entries[idx].Result = sm.Result{
				Value: uint64(kv.RetCSuccess),
				Data:  []byte(fmt.Sprintf("setIfUnset: key=%s", cmd.Key)),
			}
		case internal.CommandTDelete:
			fsm.data.Delete(cmd.Key)
			entries[idx].Result = sm.Result{
				Value: uint64(kv.RetCSuccess),
				Data:  []byte(fmt.Sprintf("deleted key=%s", cmd.Key)),
			}
		case internal.CommandTDeleteIfEqual:
			mismatch := false
			fsm.data.Compute(cmd.Key, func(old SnapshotEntry, loaded bool) (SnapshotEntry, bool) {
				if !loaded || old.deleted(cmd.IssuedAt) {
					return old, true
				}
				if !bytes.Equal(old.Value, cmd.Value) {
					mismatch = true
					return old, false
				}
				return old, true
			})
			if mismatch {
				entries[idx].Result = sm.Result{
					Value: uint64(kv.RetCValueMismatch),
					Data:  []byte(fmt.Sprintf("kept key=%s: value mismatch", cmd.Key)),
				}
				continue
			}
			entries[idx].Result = sm.Result{
				Value: uint64(kv.RetCSuccess),
				Data:  []byte(fmt.Sprintf("deleted key=%s", cmd.Key)),
			}
		default:
			entries[idx].Result = sm.Result{
				Value: uint64(kv.RetCInvalidOperation),
				Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
			}
		}
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("state machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot copies the current state. Dragonboat guarantees that no
// Update runs concurrently with this call.
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	snapshot := make(map[string]SnapshotEntry, fsm.data.Size())
	fsm.data.Range(func(key string, value SnapshotEntry) bool {
		snapshot[key] = value
		return true
	})
	return snapshot, nil
}

// SaveSnapshot writes the state captured by PrepareSnapshot to the writer
func (fsm *KVStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	snapshot, ok := ctx.(map[string]SnapshotEntry)
	if !ok {
		return fmt.Errorf("invalid snapshot context type: %T", ctx)
	}
	b, err := fsm.serializer.Serialize(snapshot)
	if err != nil {
		return err
	}
	_, err = writer.Write(b)
	return err
}

// RecoverFromSnapshot replaces the state with the snapshot read from r.
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	snapshot := map[string]SnapshotEntry{}
	if err := fsm.serializer.Deserialize(b, &snapshot); err != nil {
		return err
	}
	fsm.data.Clear()
	for k, v := range snapshot {
		fsm.data.Store(k, v)
	}
	return nil
}

// Close performs any necessary cleanup.
func (fsm *KVStateMachine) Close() error {
	fsm.data.Clear()
	return nil
}
