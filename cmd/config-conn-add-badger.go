package cmd

import (
	"fmt"

	"github.com/danmont/starpipe/actions"
	"github.com/danmont/starpipe/config"
	"github.com/danmont/starpipe/constants"
	"github.com/spf13/cobra"
)

var configConnAddBadgerCfg = &actions.ConnectionConfig{}
var configConnAddBadgerPath string

var configConnAddBadgerCmd = &cobra.Command{
	Use:   "badger",
	Short: "Add a Badger key counter connection",
	Long: fmt.Sprintf(`Add a Badger database connection to the config store %q
for use as the durable surrogate key counter store. Surviving counters are what
keep surrogate keys unique across runs, so point the path at storage that
outlives the process.
`, config.Connections.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		configConnAddBadgerCfg.Type = constants.ConnectionTypeBadger
		configConnAddBadgerCfg.ConfigFile = config.Connections
		configConnAddBadgerCfg.Data = map[string]string{"path": configConnAddBadgerPath}
		cmd.SilenceUsage = true
		return actions.RunConnectionAdd(configConnAddBadgerCfg)
	},
}

func initConnAddBadger() {
	configConnAddCmd.AddCommand(configConnAddBadgerCmd)
	configConnAddBadgerCmd.Flags().SortFlags = false
	switches.addFlag(configConnAddBadgerCmd, &configConnAddBadgerCfg.LogicalName, "connection-name", "", true, "")
	switches.addFlag(configConnAddBadgerCmd, &configConnAddBadgerPath, "badger-path", "", true, "")
	switches.addFlag(configConnAddBadgerCmd, &configConnAddBadgerCfg.Force, "force-connection", "", false, "")
}
