package dstore

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dStudy/lib/kv"
	"github.com/ValentinKolb/dStudy/lib/kv/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSM() *KVStateMachine {
	return CreateStateMachineFactory()(1, 1).(*KVStateMachine)
}

func apply(t *testing.T, fsm *KVStateMachine, cmds ...internal.Command) []sm.Entry {
	entries := make([]sm.Entry, len(cmds))
	for i := range cmds {
		entries[i] = sm.Entry{Index: uint64(i + 1), Cmd: cmds[i].Serialize()}
	}
	res, err := fsm.Update(entries)
	require.NoError(t, err)
	return res
}

func lookup(t *testing.T, fsm *KVStateMachine, key string) internal.QueryResult {
	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: key})
	require.NoError(t, err)
	return res.(internal.QueryResult)
}

func TestUpdateAndLookup(t *testing.T) {
	fsm := newTestFSM()

	res := apply(t, fsm,
		internal.Command{Type: internal.CommandTSet, Key: "a", Value: []byte("1")},
		internal.Command{Type: internal.CommandTSetIfUnset, Key: "a", Value: []byte("2")},
		internal.Command{Type: internal.CommandTSet, Key: "b", Value: []byte("3")},
		internal.Command{Type: internal.CommandTDelete, Key: "b"},
	)
	for _, e := range res {
		assert.Equal(t, uint64(kv.RetCSuccess), e.Result.Value)
	}

	r := lookup(t, fsm, "a")
	assert.True(t, r.Ok)
	assert.Equal(t, []byte("1"), r.Value)
	assert.False(t, lookup(t, fsm, "b").Ok)
}

func TestUpdateRejectsInvalidEntries(t *testing.T) {
	fsm := newTestFSM()
	res, err := fsm.Update([]sm.Entry{
		{Index: 1, Cmd: nil},
		{Index: 2, Cmd: []byte{1, 2}},
		{Index: 3, Cmd: (&internal.Command{Type: 99, Key: "x"}).Serialize()},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(kv.RetCInvalidOperation), res[0].Result.Value)
	assert.Equal(t, uint64(kv.RetCInternalError), res[1].Result.Value)
	assert.Equal(t, uint64(kv.RetCInvalidOperation), res[2].Result.Value)
}

// TestExpiryUsesCommandClock checks that SetIfUnset decides expiry with the proposer timestamp
func TestExpiryUsesCommandClock(t *testing.T) {
	fsm := newTestFSM()
	apply(t, fsm, internal.Command{Type: internal.CommandTSetIfUnset, Key: "lock", IssuedAt: 1000, DeleteAt: 2000, Value: []byte("owner-1")})

	// still held at t=1500
	apply(t, fsm, internal.Command{Type: internal.CommandTSetIfUnset, Key: "lock", IssuedAt: 1500, Value: []byte("owner-2")})
	v, _ := fsm.data.Load("lock")
	assert.Equal(t, []byte("owner-1"), v.Value)

	// expired at t=2000
	apply(t, fsm, internal.Command{Type: internal.CommandTSetIfUnset, Key: "lock", IssuedAt: 2000, Value: []byte("owner-3")})
	v, _ = fsm.data.Load("lock")
	assert.Equal(t, []byte("owner-3"), v.Value)
}

func TestDeleteIfEqual(t *testing.T) {
	fsm := newTestFSM()
	res := apply(t, fsm,
		internal.Command{Type: internal.CommandTSetIfUnset, Key: "lock", IssuedAt: 1000, DeleteAt: 2000, Value: []byte("owner-1")},
		internal.Command{Type: internal.CommandTDeleteIfEqual, Key: "lock", IssuedAt: 1100, Value: []byte("owner-2")},
	)
	assert.Equal(t, uint64(kv.RetCValueMismatch), res[1].Result.Value)
	v, ok := fsm.data.Load("lock")
	require.True(t, ok)
	assert.Equal(t, []byte("owner-1"), v.Value)

	// expired and taken over: the old owner must not delete the new lock
	res = apply(t, fsm,
		internal.Command{Type: internal.CommandTSetIfUnset, Key: "lock", IssuedAt: 2500, Value: []byte("owner-2")},
		internal.Command{Type: internal.CommandTDeleteIfEqual, Key: "lock", IssuedAt: 2600, Value: []byte("owner-1")},
	)
	assert.Equal(t, uint64(kv.RetCValueMismatch), res[1].Result.Value)
	v, _ = fsm.data.Load("lock")
	assert.Equal(t, []byte("owner-2"), v.Value)

	res = apply(t, fsm,
		internal.Command{Type: internal.CommandTDeleteIfEqual, Key: "lock", IssuedAt: 2700, Value: []byte("owner-2")},
		internal.Command{Type: internal.CommandTDeleteIfEqual, Key: "lock", IssuedAt: 2800, Value: []byte("owner-2")},
	)
	assert.Equal(t, uint64(kv.RetCSuccess), res[0].Result.Value)
	assert.Equal(t, uint64(kv.RetCSuccess), res[1].Result.Value, "a missing key counts as deleted")
	_, ok = fsm.data.Load("lock")
	assert.False(t, ok)
}

func TestSnapshotRoundTrip(t *testing.T) {
	fsm := newTestFSM()
	apply(t, fsm,
		internal.Command{Type: internal.CommandTSet, Key: "a", Value: []byte("1")},
		internal.Command{Type: internal.CommandTSet, Key: "b", Value: []byte("2")},
	)

	ctx, err := fsm.PrepareSnapshot()
	require.NoError(t, err)

	// writes after PrepareSnapshot are not part of the snapshot
	apply(t, fsm, internal.Command{Type: internal.CommandTSet, Key: "c", Value: []byte("3")})

	var buf bytes.Buffer
	require.NoError(t, fsm.SaveSnapshot(ctx, &buf, nil, nil))

	restored := newTestFSM()
	apply(t, restored, internal.Command{Type: internal.CommandTSet, Key: "stale", Value: []byte("x")})
	require.NoError(t, restored.RecoverFromSnapshot(&buf, nil, nil))

	assert.Equal(t, []byte("1"), lookup(t, restored, "a").Value)
	assert.Equal(t, []byte("2"), lookup(t, restored, "b").Value)
	assert.False(t, lookup(t, restored, "c").Ok)
	assert.False(t, lookup(t, restored, "stale").Ok)

	size, err := restored.Lookup(internal.Query{Type: internal.QueryTSize})
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestLookupInvalidQuery(t *testing.T) {
	fsm := newTestFSM()
	_, err := fsm.Lookup("not a query")
	assert.True(t, kv.IsCode(err, kv.RetCInternalError))

	_, err = fsm.Lookup(internal.Query{Type: 42})
	assert.True(t, kv.IsCode(err, kv.RetCInvalidOperation))
}
