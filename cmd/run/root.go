package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dStudy/cmd/util"
	"github.com/ValentinKolb/dStudy/lib/common"
	"github.com/ValentinKolb/dStudy/lib/dump"
	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage/memstorage"
	"github.com/ValentinKolb/dStudy/lib/study"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var (
	log = logger.GetLogger(common.LoggerCmd)

	runCmdConfig = &common.Config{}
	RunCmd       = &cobra.Command{
		Use:   "run",
		Short: "Optimize a demo study and replicate it",
		Long: `Optimize the Rosenbrock function in an in-memory study and replicate the study
into the destination every --interval completed trials. After the run a final
pass copies the trials finished after the last interval boundary.

The configuration can be set via command line flags or environment variables.
The format of the environment variables is DSTUDY_<flag> (e.g. DSTUDY_N_TRIALS=500)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupDestinationFlags(RunCmd)

	key := "study-name"
	RunCmd.Flags().String(key, "dumped", cmdUtil.WrapString("Name of the study, used for the source and the destination"))

	key = "direction"
	RunCmd.Flags().String(key, "minimize", cmdUtil.WrapString("Optimization direction (minimize, maximize)"))

	key = "n-trials"
	RunCmd.Flags().Int(key, 100, cmdUtil.WrapString("Number of trials to run"))

	key = "n-jobs"
	RunCmd.Flags().Int(key, 1, cmdUtil.WrapString("Number of trials evaluated concurrently"))

	key = "seed"
	RunCmd.Flags().Uint64(key, 0, cmdUtil.WrapString("Seed of the random sampler"))

	key = "interval"
	RunCmd.Flags().Int(key, 10, cmdUtil.WrapString("Replicate every n completed trials"))

	key = "sync-study-attrs"
	RunCmd.Flags().Bool(key, false, cmdUtil.WrapString("Synchronize the study attributes on every pass instead of only on the first one"))

	key = "lock"
	RunCmd.Flags().String(key, "local", cmdUtil.WrapString("Lock guarding the passes: local (in process) or store (in the key-value store of the destination, falls back to an in-memory store)"))

	key = "print-metrics"
	RunCmd.Flags().Bool(key, false, cmdUtil.WrapString("Print the replication metrics in Prometheus format after the run"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	*runCmdConfig = *cmdUtil.GetConfig()
	if err := runCmdConfig.Validate(); err != nil {
		return err
	}
	return common.InitLoggers(runCmdConfig.LogLevel)
}

// rosenbrock is the objective of the demo study
func rosenbrock(_ context.Context, t *study.Trial) (float64, error) {
	x1, err := t.SuggestFloat("x1", -100, 100, false)
	if err != nil {
		return 0, err
	}
	x2, err := t.SuggestFloat("x2", -100, 100, false)
	if err != nil {
		return 0, err
	}
	return 100*(x2-x1*x1)*(x2-x1*x1) + (x1-1)*(x1-1), nil
}

// run optimizes the demo study with a dump callback attached
func run(_ *cobra.Command, _ []string) error {
	conf := runCmdConfig
	log.Infof("starting with configuration:\n%s", conf)

	direction, err := record.ParseStudyDirection(conf.Direction)
	if err != nil {
		return err
	}

	dest, err := cmdUtil.OpenDestination(conf)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer func() {
		if err := dest.Storage.Close(); err != nil {
			log.Warningf("failed to close destination: %v", err)
		}
	}()

	locks, err := cmdUtil.OpenLockManager(conf.Lock, dest)
	if err != nil {
		return err
	}

	cb, err := dump.NewCallback(dest.Storage, dump.CallbackConfig{
		Interval:                conf.Interval,
		SyncStudyAttrsEveryTime: conf.SyncStudyAttrs,
		LockManager:             locks,
		LockTimeout:             time.Minute,
	})
	if err != nil {
		return err
	}

	src := memstorage.NewStorage()
	s, err := study.CreateStudy(src, conf.StudyName, direction)
	if err != nil {
		return err
	}
	if err := s.SetUserAttr("objective", "rosenbrock"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err = s.Optimize(ctx, rosenbrock, study.OptimizeConfig{
		NTrials:   conf.NTrials,
		NJobs:     conf.NJobs,
		Seed:      conf.Seed,
		Callbacks: []study.CallbackFunc{cb.OnTrialComplete},
	})
	if err != nil {
		return fmt.Errorf("optimization aborted: %w", err)
	}
	log.Infof("optimization finished after %s", time.Since(start))

	// trials finished after the last interval boundary
	_, stats, err := dump.DumpStudy(src, s.ID(), dest.Storage)
	if err != nil {
		return fmt.Errorf("final dump: %w", err)
	}
	log.Infof("final dump done (%s)", stats)

	if best, err := s.BestTrial(); err == nil {
		fmt.Printf("best trial #%d: value=%g params=%v\n", best.Number, *best.Value, best.Params)
	}

	if conf.PrintMetrics {
		dump.WriteMetrics(os.Stdout)
	}
	return nil
}
