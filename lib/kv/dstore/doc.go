// Package dstore implements kv.IStore on top of the Dragonboat RAFT library.
// It lets several replicas hold the same replicated study so that losing one
// machine does not lose the optimization history.
//
// Architecture:
//
//   - Store Client (store.go): serializes operations into commands, proposes
//     them with SyncPropose and reads with SyncRead (linearizable).
//
//   - State Machine (statemachine.go): a Dragonboat IConcurrentStateMachine
//     holding the data in a concurrent map. Snapshots are gob-encoded copies of
//     the map taken in PrepareSnapshot.
//
//   - Communication Protocol: the binary Command format and the Query structs
//     live in the internal package.
//
// Time To Live:
//
//	SetIfUnset with a ttl stores an absolute deadline computed by the proposer.
//	Each command also carries the proposer's clock (IssuedAt), and the state
//	machine decides whether an existing key has expired using that timestamp
//	instead of the local clock. Replays of the raft log therefore produce the
//	same state on every replica. Reads compare against the local clock.
//
// Error Handling and Retries:
//
//	dragonboat.ErrSystemBusy is retried up to five times with a short pause.
//	Other failures are returned as *kv.Error with RetCInternalError.
//
// Usage:
//
//	For a single process the StartSingleNode helper is enough:
//
//	  store, err := dstore.StartSingleNode(dstore.DefaultNodeConfig("data/raft"))
//	  if err != nil { ... }
//	  defer store.Close()
//
//	Multi node deployments start the NodeHost and replica themselves and wrap
//	it with NewDistributedStore(nh, shardID, timeout).
package dstore
