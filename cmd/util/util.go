package util

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ValentinKolb/dStudy/lib/common"
	"github.com/ValentinKolb/dStudy/lib/kv"
	"github.com/ValentinKolb/dStudy/lib/kv/bstore"
	"github.com/ValentinKolb/dStudy/lib/kv/dstore"
	"github.com/ValentinKolb/dStudy/lib/kv/lstore"
	"github.com/ValentinKolb/dStudy/lib/lockmgr"
	"github.com/ValentinKolb/dStudy/lib/serializer"
	"github.com/ValentinKolb/dStudy/lib/storage"
	"github.com/ValentinKolb/dStudy/lib/storage/kvstorage"
	"github.com/ValentinKolb/dStudy/lib/storage/memstorage"
	"github.com/ValentinKolb/dStudy/lib/storage/sqlstorage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads the env files and configures viper to read DSTUDY_* variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dstudy")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupDestinationFlags adds the flags needed to open a destination to a command
func SetupDestinationFlags(cmd *cobra.Command) {
	key := "destination"
	cmd.PersistentFlags().String(key, "sqlite:dstudy.db", WrapString("Where to replicate the study to. One of: memory, sqlite:<file>, badger:<dir>, raft:<dir>"))

	key = "raft-shard"
	cmd.PersistentFlags().Uint64(key, 1, WrapString("(raft destination) ID of the shard holding the store"))

	key = "raft-address"
	cmd.PersistentFlags().String(key, "localhost:63001", WrapString("(raft destination) RaftAddress of the local NodeHost"))

	key = "raft-rtt-millisecond"
	cmd.PersistentFlags().Uint64(key, 100, WrapString("(raft destination) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances"))

	key = "timeout"
	cmd.PersistentFlags().Int64(key, 5, WrapString("(raft destination) Timeout in seconds of a single proposal or read"))
}

// GetConfig reads the configuration from viper. Flags a command does not
// define keep their zero value.
func GetConfig() *common.Config {
	return &common.Config{
		StudyName:      viper.GetString("study-name"),
		Direction:      viper.GetString("direction"),
		NTrials:        viper.GetInt("n-trials"),
		NJobs:          viper.GetInt("n-jobs"),
		Seed:           viper.GetUint64("seed"),
		Interval:       viper.GetInt("interval"),
		SyncStudyAttrs: viper.GetBool("sync-study-attrs"),
		Destination:    viper.GetString("destination"),
		Lock:           viper.GetString("lock"),
		Serializer:     viper.GetString("serializer"),
		RaftShardID:    viper.GetUint64("raft-shard"),
		RaftAddress:    viper.GetString("raft-address"),
		RaftRTTMillis:  viper.GetUint64("raft-rtt-millisecond"),
		TimeoutSecond:  viper.GetInt64("timeout"),
		LogLevel:       viper.GetString("log-level"),
		PrintMetrics:   viper.GetBool("print-metrics"),
	}
}

// --------------------------------------------------------------------------
// Destinations
// --------------------------------------------------------------------------

// Destination is an opened destination storage. KV is the key-value store
// backing the storage, nil for storages that are not built on one.
type Destination struct {
	Storage storage.IStorage
	KV      kv.IStore
}

// OpenDestination opens the storage described by conf.Destination
func OpenDestination(conf *common.Config) (*Destination, error) {
	kind, arg, _ := strings.Cut(conf.Destination, ":")

	switch kind {
	case "memory":
		return &Destination{Storage: memstorage.NewStorage()}, nil

	case "sqlite":
		if arg == "" {
			return nil, fmt.Errorf("sqlite destination requires a file, e.g. sqlite:dstudy.db")
		}
		s, err := sqlstorage.NewStorage(arg)
		if err != nil {
			return nil, err
		}
		return &Destination{Storage: s}, nil

	case "badger":
		bconf := bstore.InMemoryConfig()
		if arg != "" {
			bconf = bstore.DefaultConfig(arg)
		}
		store, err := bstore.NewBadgerStore(bconf)
		if err != nil {
			return nil, err
		}
		return newKVDestination(store, conf)

	case "raft":
		if arg == "" {
			return nil, fmt.Errorf("raft destination requires a data directory, e.g. raft:data")
		}
		nconf := dstore.DefaultNodeConfig(filepath.Clean(arg))
		nconf.ShardID = conf.RaftShardID
		nconf.RaftAddress = conf.RaftAddress
		nconf.RTTMillisecond = conf.RaftRTTMillis
		nconf.Timeout = time.Duration(conf.TimeoutSecond) * time.Second
		store, err := dstore.StartSingleNode(nconf)
		if err != nil {
			return nil, err
		}
		return newKVDestination(store, conf)

	default:
		return nil, fmt.Errorf("invalid destination %q (expected one of: memory, sqlite:<file>, badger:<dir>, raft:<dir>)", conf.Destination)
	}
}

func newKVDestination(store kv.IStore, conf *common.Config) (*Destination, error) {
	ser, err := serializer.NewSerializer(conf.Serializer)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Destination{Storage: kvstorage.NewStorage(store, ser), KV: store}, nil
}

// OpenLockManager creates the lock manager guarding the dump passes. A store
// lock lives in the key-value store of the destination if it has one.
func OpenLockManager(kind string, dest *Destination) (lockmgr.ILockManager, error) {
	switch kind {
	case "", "local":
		return lockmgr.NewLocalLockManager(), nil
	case "store":
		if dest.KV != nil {
			return lockmgr.NewLockManager(dest.KV), nil
		}
		return lockmgr.NewLockManager(lstore.NewLocalStore()), nil
	default:
		return nil, fmt.Errorf("invalid lock %q (expected local or store)", kind)
	}
}
