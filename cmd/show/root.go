package show

import (
	"fmt"
	"strings"

	cmdUtil "github.com/ValentinKolb/dStudy/cmd/util"
	"github.com/ValentinKolb/dStudy/lib/common"
	"github.com/ValentinKolb/dStudy/lib/kv"
	"github.com/ValentinKolb/dStudy/lib/kv/dstore"
	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/spf13/cobra"
)

var (
	ShowCmd = &cobra.Command{
		Use:   "show [study-name]",
		Short: "Print the studies of a destination",
		Long: `Open a destination and print its studies with a summary of their trials.
If a study name is given, every trial of that study is printed.`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)
	cmdUtil.SetupDestinationFlags(ShowCmd)
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(cmdUtil.GetConfig().LogLevel)
}

func run(_ *cobra.Command, args []string) error {
	dest, err := cmdUtil.OpenDestination(cmdUtil.GetConfig())
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer dest.Storage.Close()

	if n, ok, err := replicaKeys(dest); err != nil {
		return fmt.Errorf("read replica size: %w", err)
	} else if ok {
		fmt.Printf("local replica holds %d keys\n", n)
	}

	studies, err := dest.Storage.GetAllStudies()
	if err != nil {
		return err
	}

	for _, st := range studies {
		if len(args) == 1 && st.Name != args[0] {
			continue
		}
		trials, err := dest.Storage.GetAllTrials(st.ID)
		if err != nil {
			return fmt.Errorf("read trials of study %q: %w", st.Name, err)
		}

		fmt.Printf("%s (id %d, %s): %s\n", st.Name, st.ID, st.Direction, summarize(trials))
		if len(st.UserAttrs) > 0 {
			fmt.Printf("  user attrs: %v\n", st.UserAttrs)
		}
		if len(args) == 1 {
			for _, t := range trials {
				fmt.Printf("  %s\n", formatTrial(t))
			}
		}
	}
	return nil
}

// replicaKeys returns the number of keys of the local raft replica. ok is
// false for destinations that are not replicated.
func replicaKeys(dest *cmdUtil.Destination) (n int, ok bool, err error) {
	if dest.KV == nil {
		return 0, false, nil
	}
	n, err = dstore.Size(dest.KV)
	if kv.IsCode(err, kv.RetCUnsupportedOperation) {
		return 0, false, nil
	}
	return n, err == nil, err
}

// summarize counts the trials per state
func summarize(trials []record.Trial) string {
	counts := map[record.TrialState]int{}
	for _, t := range trials {
		counts[t.State]++
	}
	parts := []string{fmt.Sprintf("%d trials", len(trials))}
	for _, s := range []record.TrialState{record.TrialStateRunning, record.TrialStateComplete, record.TrialStatePruned, record.TrialStateFailed} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], strings.ToLower(s.String())))
		}
	}
	return strings.Join(parts, ", ")
}

func formatTrial(t record.Trial) string {
	value := "-"
	if t.Value != nil {
		value = fmt.Sprintf("%g", *t.Value)
	}
	return fmt.Sprintf("#%-5d %-9s value=%-14s params=%v", t.Number, t.State, value, t.Params)
}
