package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/danmont/starpipe/logger"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

var stageCfg runFlags

// stageCmd stages the source tables without loading the warehouse, so an
// extract can be landed now and loaded by a later run of the same batch.
var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Stage the source tables with audit provenance and stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewLogger("starpipe", stageCfg.logLevel, stackDumpOnPanic)
		p, cleanup, err := newPipelineFromFlags(log, &stageCfg)
		if err != nil {
			return err
		}
		defer cleanup()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		_, err = p.RunStagingOnly(ctx)
		return err
	},
}

func init() {
	rootCmd.AddCommand(stageCmd)
	stageCmd.Flags().SortFlags = false
	addLoadFlags(stageCmd, &stageCfg)
}
