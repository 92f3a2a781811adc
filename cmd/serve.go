package cmd

import (
	"net"

	"github.com/danmont/starpipe/actions"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/pipeline"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a web service that runs and monitors warehouse loads",
	Long: `Start a web service that runs and monitors warehouse loads. POST /loads
triggers a load, GET /loads lists completed runs and /loads/stats reports live
step statistics. Supply --schedule to also run loads on a fixed interval; a
tick that lands while a load is still running is skipped rather than doubled
up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serveConfig.LogLevel = serveRunCfg.logLevel
		serveConfig.StackDumpOnPanic = stackDumpOnPanic
		log := logger.NewLogger("starpipe", serveConfig.LogLevel, stackDumpOnPanic)
		serveConfig.Factory = func() (*pipeline.Pipeline, func(), error) {
			return newPipelineFromFlags(log, &serveRunCfg)
		}
		return actions.RunWebServer(&serveConfig)
	},
}

var serveConfig = actions.WebServerConfig{
	Scheme: "http",
	Addr:   net.IP{0, 0, 0, 0},
	Port:   8080,
}

var serveRunCfg runFlags

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().SortFlags = false
	serveCmd.Flags().IPVarP(&serveConfig.Addr, "address", "a", net.IP{0, 0, 0, 0}, "Address to listen on")
	switches.addFlag(serveCmd, &serveConfig.Port, "port", "8080", false, "")
	switches.addFlag(serveCmd, &serveConfig.ScheduleSeconds, "schedule", "0", false, "")
	addLoadFlags(serveCmd, &serveRunCfg)
}
