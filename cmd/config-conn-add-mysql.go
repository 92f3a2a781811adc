package cmd

import (
	"fmt"

	"github.com/danmont/starpipe/actions"
	"github.com/danmont/starpipe/config"
	"github.com/danmont/starpipe/constants"
	"github.com/spf13/cobra"
)

var configConnAddMysqlCfg = &actions.ConnectionConfig{}

var configConnAddMysqlCmd = &cobra.Command{
	Use:   "mysql",
	Short: "Add a MySQL connection",
	Long: fmt.Sprintf(`Add a MySQL database connection to the config store %q
by providing a DSN of the form:

mysql://<user>:<pass>@<host>:<port>/<dbname>[?<opt1>=<value1>&...]

The same connection can serve as source, warehouse and sequence store, or
separate connections can be configured per role. A DSN supplied via the
environment variable SP_<CONNECTION NAME>_DSN takes priority at load time,
so the stored DSN can omit credentials on shared hosts.
`, config.Connections.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		configConnAddMysqlCfg.Type = constants.ConnectionTypeMysql
		configConnAddMysqlCfg.ConfigFile = config.Connections
		cmd.SilenceUsage = true
		return actions.RunConnectionAdd(configConnAddMysqlCfg)
	},
}

func initConnAddMysql() {
	configConnAddCmd.AddCommand(configConnAddMysqlCmd)
	configConnAddMysqlCmd.Flags().SortFlags = false
	switches.addFlag(configConnAddMysqlCmd, &configConnAddMysqlCfg.LogicalName, "connection-name", "", true, "")
	switches.addFlag(configConnAddMysqlCmd, &configConnAddMysqlCfg.Dsn, "dsn", "", true, "")
	switches.addFlag(configConnAddMysqlCmd, &configConnAddMysqlCfg.Force, "force-connection", "", false, "")
}
