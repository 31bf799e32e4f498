package dstore

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/dStudy/lib/kv"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
)

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// NodeConfig configures a single raft replica hosting the store.
type NodeConfig struct {
	DataDir            string
	RaftAddress        string
	ShardID            uint64
	ReplicaID          uint64
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	Timeout            time.Duration
}

// DefaultNodeConfig returns the configuration used by `dstudy run --destination raft:<dir>`.
func DefaultNodeConfig(dataDir string) NodeConfig {
	return NodeConfig{
		DataDir:            dataDir,
		RaftAddress:        "localhost:63001",
		ShardID:            1,
		ReplicaID:          1,
		RTTMillisecond:     100,
		SnapshotEntries:    1000,
		CompactionOverhead: 500,
		Timeout:            5 * time.Second,
	}
}

// ToDragonboatConfig converts the NodeConfig to a Dragonboat shard Config
func (c NodeConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c NodeConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         filepath.Join(c.DataDir, "wal"),
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.RaftAddress,
	}
}

// StartSingleNode starts a NodeHost with a one-member shard running the store's
// state machine, waits until the replica has elected itself leader and returns
// the store. Closing the store stops the NodeHost.
func StartSingleNode(conf NodeConfig) (kv.IStore, error) {
	nh, err := dragonboat.NewNodeHost(conf.ToNodeHostConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create node host: %w", err)
	}

	members := map[uint64]string{conf.ReplicaID: conf.RaftAddress}
	if err := nh.StartConcurrentReplica(members, false, CreateStateMachineFactory(), conf.ToDragonboatConfig()); err != nil {
		nh.Close()
		return nil, fmt.Errorf("failed to start shard %d: %w", conf.ShardID, err)
	}

	if err := waitForLeader(nh, conf.ShardID, conf.Timeout*4); err != nil {
		nh.Close()
		return nil, err
	}

	s := NewDistributedStore(nh, conf.ShardID, conf.Timeout).(*storeImpl)
	s.owned = true
	return s, nil
}

// waitForLeader polls the shard until a leader is known or the timeout expires
func waitForLeader(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, _, valid, err := nh.GetLeaderID(shardID); err == nil && valid {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("shard %d has no leader after %s", shardID, timeout)
}
