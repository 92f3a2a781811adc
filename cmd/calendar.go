package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/danmont/starpipe/logger"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

var calendarCfg runFlags

// calendarCmd materialises the date and time dimensions over the configured
// horizon. Both builders create only absent rows so extending the horizon of
// an existing warehouse is safe.
var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Build the date and time dimensions over the configured horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewLogger("starpipe", calendarCfg.logLevel, stackDumpOnPanic)
		p, cleanup, err := newPipelineFromFlags(log, &calendarCfg)
		if err != nil {
			return err
		}
		defer cleanup()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		_, err = p.RunCalendarOnly(ctx)
		return err
	},
}

func init() {
	rootCmd.AddCommand(calendarCmd)
	calendarCmd.Flags().SortFlags = false
	addLoadFlags(calendarCmd, &calendarCfg)
}
