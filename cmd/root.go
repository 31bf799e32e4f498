package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dStudy/cmd/run"
	"github.com/ValentinKolb/dStudy/cmd/show"
	"github.com/ValentinKolb/dStudy/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dstudy",
		Short: "incremental study replication",
		Long: fmt.Sprintf(`dStudy (v%s)

Replicates a running hyperparameter optimization study into durable
stores (SQLite, Badger or a RAFT replicated key-value store) while the
optimization keeps running.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dStudy",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dStudy v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(run.RunCmd)
	RootCmd.AddCommand(show.ShowCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer of the records in key-value destinations (json, gob)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
