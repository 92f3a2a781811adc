package cmd

import (
	"github.com/spf13/cobra"
)

var configConnAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a connection",
	Long:  `Add a logical connection (database or key counter store) for use with the load commands.`,
}

func initConnAdd() {
	configConnCmd.AddCommand(configConnAddCmd)
	initConnAddMysql()
	initConnAddBadger()
}
