package cmd

import (
	"fmt"
	"sort"

	"github.com/danmont/starpipe/config"
	"github.com/spf13/cobra"
)

var configConnListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print all connections",
	Long: fmt.Sprintf(`List connections stored in config store %q
by printing them all to STDOUT`,
		config.Connections.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := config.Connections.GetAllKeys()
		if err != nil {
			return err
		}
		// Sort the slice of keys alphabetically.
		sort.Slice(d, func(i, j int) bool {
			return d[i] < d[j]
		})
		for _, k := range d { // for each key...
			conn := config.ConnectionDetails{}
			if err := config.Connections.Get(k, &conn); err != nil {
				return err
			}
			fmt.Printf("%v:\n  type: %v\n", k, conn.Type)
			for dk, dv := range conn.Data {
				fmt.Printf("  %v: %v\n", dk, dv)
			}
		}
		return nil
	},
}

func initConnList() {
	configConnCmd.AddCommand(configConnListCmd)
}
