package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/danmont/starpipe/config"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/pipeline"
	"github.com/danmont/starpipe/schema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

// runFlags carries the flag values shared by the load commands.
type runFlags struct {
	logLevel     string
	source       string
	warehouse    string
	sequence     string
	originTag    string
	batchId      string
	startYear    int
	spanYears    int
	statsSeconds int
}

var runCfg runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one incremental load of the star schema",
	Long: `Run one incremental load of the star schema: stage the source tables, build
the calendar dimensions, load each dimension in dependency order and finish
with the sales fact. Transient I/O failures are retried with backoff; re-running
a batch is safe and loads nothing twice.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewLogger("starpipe", runCfg.logLevel, stackDumpOnPanic)
		p, cleanup, err := newPipelineFromFlags(log, &runCfg)
		if err != nil {
			return err
		}
		defer cleanup()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		_, err = p.Run(ctx)
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().SortFlags = false
	addLoadFlags(runCmd, &runCfg)
}

// addLoadFlags registers the flags shared by every command that builds a
// pipeline.
func addLoadFlags(c *cobra.Command, f *runFlags) {
	switches.addFlag(c, &f.logLevel, "log-level", "info", false, "")
	switches.addFlag(c, &f.source, "source", "", false, "")
	switches.addFlag(c, &f.warehouse, "warehouse", "", false, "")
	switches.addFlag(c, &f.sequence, "sequence", "", false, "")
	switches.addFlag(c, &f.originTag, "origin-tag", "", false, "")
	switches.addFlag(c, &f.batchId, "batch-id", "", false, "")
	switches.addFlag(c, &f.startYear, "start-year", "", false, "")
	switches.addFlag(c, &f.spanYears, "span-years", "", false, "")
	switches.addFlag(c, &f.statsSeconds, "stats", "5", false, "")
}

// newPipelineFromFlags merges CLI flags over the configured settings, opens
// the stores and builds a pipeline. The returned cleanup closes the stores.
func newPipelineFromFlags(log logger.Logger, f *runFlags) (*pipeline.Pipeline, func(), error) {
	settings, err := config.LoadRunSettings()
	if err != nil {
		return nil, nil, err
	}
	if f.source != "" {
		settings.SourceConnection = f.source
	}
	if f.warehouse != "" {
		settings.WarehouseConnection = f.warehouse
	}
	if f.sequence != "" {
		settings.SequenceConnection = f.sequence
	}
	if f.originTag != "" {
		settings.OriginTag = f.originTag
	}
	if f.startYear != 0 {
		settings.CalendarStartYear = f.startYear
	}
	if f.spanYears != 0 {
		settings.CalendarSpanYears = f.spanYears
	}
	if settings.WarehouseConnection == "" {
		return nil, nil, errors.New("no warehouse connection: use --warehouse or configure warehouseConnection")
	}
	if settings.SourceConnection == "" { // source tables default to the warehouse database.
		settings.SourceConnection = settings.WarehouseConnection
	}
	wh, err := config.OpenStore(log, settings.WarehouseConnection)
	if err != nil {
		return nil, nil, err
	}
	src, err := config.OpenStore(log, settings.SourceConnection)
	if err != nil {
		_ = wh.Close()
		return nil, nil, err
	}
	seq, err := config.OpenSequence(log, settings.SequenceConnection, wh)
	if err != nil {
		_ = src.Close()
		_ = wh.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if seq != wh {
			_ = seq.Close()
		}
		_ = src.Close()
		_ = wh.Close()
	}
	p, err := pipeline.New(&pipeline.Config{
		Log:                       log,
		Model:                     schema.DefaultModel(),
		Source:                    src,
		Store:                     wh,
		Seq:                       seq,
		OriginTag:                 settings.OriginTag,
		BatchId:                   f.batchId,
		CalendarStartYear:         settings.CalendarStartYear,
		CalendarSpanYears:         settings.CalendarSpanYears,
		Retry:                     pipeline.RetryPolicy{MaxAttempts: settings.RetryMaxAttempts, BackoffSeconds: settings.RetryBackoffSeconds},
		StatsDumpFrequencySeconds: f.statsSeconds,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}
