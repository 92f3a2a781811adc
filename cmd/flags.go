package cmd

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/danmont/starpipe/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type cliFlag struct {
	name      string // name of flag
	val       string // default value
	shortHand string // single character name for the flag
	desc      string // description of the flag; the long text
}

type cliFlags map[string]cliFlag

var switches = cliFlags{
	"log-level": cliFlag{name: "log-level", shortHand: "l",
		desc: "Log level: \"error | warn | info | debug\" where only step stats are \n" +
			"output when using \"warn\""},
	"source": cliFlag{name: "source", shortHand: "s",
		desc: "Name of the configured connection holding the operational source tables"},
	"warehouse": cliFlag{name: "warehouse", shortHand: "w",
		desc: "Name of the configured connection holding the staged, dimension and fact tables"},
	"sequence": cliFlag{name: "sequence", shortHand: "q",
		desc: "Optional: name of the connection holding the durable surrogate key counters.\n" +
			"Leave blank to allocate keys in the warehouse"},
	"origin-tag": cliFlag{name: "origin-tag", shortHand: "t",
		desc: "Origin tag stamped as CREATED_BY on every staged row"},
	"batch-id": cliFlag{name: "batch-id", shortHand: "B",
		desc: "Optional: run identifier stamped as BATCH_ID on staged rows. A fresh guid \n" +
			"is generated when blank"},
	"start-year": cliFlag{name: "start-year", shortHand: "Y",
		desc: "First calendar year materialised into the date dimension"},
	"span-years": cliFlag{name: "span-years", shortHand: "N",
		desc: "Number of calendar years materialised into the date dimension"},
	"stats": cliFlag{name: "stats", shortHand: "L",
		desc: "Number of seconds between dumping step statistics (use 0 to disable)"},
	"repair": cliFlag{name: "repair", shortHand: "r",
		desc: "Rewrite history-tracked dimension rows to restore the single-current invariant"},
	"port": cliFlag{name: "port", shortHand: "p",
		desc: "Port to listen on"},
	"schedule": cliFlag{name: "schedule", shortHand: "i",
		desc: "The interval in seconds between scheduled loads (use 0 to disable the schedule\n" +
			"and only serve the monitoring endpoints)"},
	"connection-name": cliFlag{name: "connection-name", shortHand: "c",
		desc: "Connection name referred to by load commands"},
	"dsn": cliFlag{name: "dsn", shortHand: "d",
		desc: "DSN of the form mysql://<user>:<pass>@<host>:<port>/<dbname>"},
	"badger-path": cliFlag{name: "path", shortHand: "d",
		desc: "Directory holding the surrogate key counter database"},
	"force-connection": cliFlag{name: "force", shortHand: "f",
		desc: "Allow overwrite of existing connections"},
}

// addFlag adds a flag to cobra.Command c, based on the type of targetVar (which must be a pointer).
// The name of the flag is looked up in map, cliFlags.
// The default value is fetched from config if it exists else the supplied defaultValue is applied.
// The flag is marked as required in Cobra based on the value of required.
// Supply a value for desc2 to append to the existing description found in map cliFlags.
func (f *cliFlags) addFlag(c *cobra.Command, targetVar interface{}, name string, defaultValue string, required bool, desc2 string) {
	v := reflect.ValueOf(targetVar)
	if v.Kind() != reflect.Ptr {
		fmt.Println("error adding flag: targetVar must be a pointer")
		os.Exit(1)
	}
	sw := f.getCliFlag(name, defaultValue, config.Main.Get) // get the cliFlag details, with defaults taken from config or the supplied defaultValue
	desc := sw.desc + desc2                                 // create the full flag description for use below
	// Apply the flag.
	switch p := targetVar.(type) {
	case *string:
		c.Flags().StringVarP(p, sw.name, sw.shortHand, sw.val, desc)
		// Signal that the flag was set so defaults take effect.
		if sw.val != "" { // if there is a value via config or default...
			mustSetFlag(c.Flags(), sw.name, sw.val)
		}
	case *bool:
		defaultBool := strings.ToLower(sw.val) == "true"
		c.Flags().BoolVarP(p, sw.name, sw.shortHand, defaultBool, desc)
	case *int:
		defaultInt := 0
		if sw.val != "" {
			var err error
			defaultInt, err = strconv.Atoi(sw.val)
			if err != nil {
				fmt.Printf("the value for flag %q must be an integer: %v\n", sw.name, err)
				os.Exit(1)
			}
		}
		c.Flags().IntVarP(p, sw.name, sw.shortHand, defaultInt, desc)
	default:
		panic("Error: unhandled CLI flag target value type")
	}
	// Optionally mark the flag as mandatory.
	if required { // if the flag is required...
		_ = c.MarkFlagRequired(sw.name)
	}
}

// getCliFlag reads the Main config file to find a default value for name.
// If a value cannot be found then use the supplied defaultValue in its place.
func (f *cliFlags) getCliFlag(name string, defaultValue string, fnGetConfig func(key string, out interface{}) error) cliFlag {
	s, ok := switches[name]
	if !ok {
		panic(fmt.Sprintf("unregistered CLI flag, %q", name))
	}
	err := fnGetConfig(s.name, &s.val)
	if errors.As(err, &config.KeyNotFoundError{}) || s.val == "" { // if there was no key found...
		// Apply the default.
		s.val = defaultValue
	}
	return s
}

func mustSetFlag(flags *pflag.FlagSet, name string, value string) {
	if err := flags.Set(name, value); err != nil {
		fmt.Printf("error setting flag %q to %q: %v\n", name, value, err)
		os.Exit(1)
	}
}
