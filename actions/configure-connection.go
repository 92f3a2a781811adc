package actions

import (
	"fmt"
	"strings"

	"github.com/danmont/starpipe/config"
	"github.com/danmont/starpipe/constants"
	"github.com/pkg/errors"
	"github.com/xo/dburl"
)

// ConnectionGetterSetter abstracts the encrypted connections config file so
// connection actions can be tested against an in-memory implementation.
type ConnectionGetterSetter interface {
	Get(key string, out interface{}) error
	Set(key string, val interface{}) error
	Delete(key string) error
	GetAllKeys() ([]string, error)
}

type ConnectionConfig struct {
	ConfigFile  ConnectionGetterSetter
	LogicalName string
	Type        string
	Dsn         string
	Data        map[string]string
	Force       bool
}

// RunConnectionAdd validates and persists a logical connection.
// MySQL DSNs are parsed up front so a bad URL fails here rather than at load time.
func RunConnectionAdd(cfg *ConnectionConfig) error {
	if cfg.LogicalName == "" {
		return errors.New("missing connection name")
	}
	if strings.Contains(cfg.LogicalName, ".") {
		return fmt.Errorf("connection name cannot contain period characters '.'")
	}
	connection := config.ConnectionDetails{
		LogicalName: cfg.LogicalName,
		Type:        cfg.Type,
		Data:        make(map[string]string),
	}
	for k, v := range cfg.Data {
		connection.Data[k] = v
	}
	switch cfg.Type {
	case constants.ConnectionTypeMysql:
		u, err := dburl.Parse(cfg.Dsn)
		if err != nil {
			return errors.Wrap(err, "unable to parse DSN")
		}
		if u.Driver != constants.ConnectionTypeMysql {
			return fmt.Errorf("%v is an unsupported connection scheme, expected mysql", u.Driver)
		}
		connection.Data["dsn"] = u.DSN
	case constants.ConnectionTypeBadger:
		if connection.Data["path"] == "" && connection.Data["inMemory"] != "true" {
			return errors.New("badger connections need a path unless in-memory is set")
		}
	case constants.ConnectionTypeMemory:
		// Nothing to validate.
	default:
		return fmt.Errorf("unsupported connection type %q", cfg.Type)
	}
	// Check for an existing saved connection.
	tmpConn := &config.ConnectionDetails{}
	err := cfg.ConfigFile.Get(cfg.LogicalName, tmpConn)
	if err != nil { // if there is an error finding the connection...
		if errors.As(err, &config.FileNotFoundError{}) { // if the error is real...
			return err
		}
	} else if tmpConn.LogicalName != "" && !cfg.Force { // else if the connection exists, but we are not allowed to overwrite it...
		return fmt.Errorf("connection exists, use force to update the connection or remove it first")
	}
	// Set config (creates the file if missing).
	if err := cfg.ConfigFile.Set(cfg.LogicalName, &connection); err != nil {
		return fmt.Errorf("error writing connections config file after adding: %v", err)
	}
	fmt.Printf("Connection %q added\n", cfg.LogicalName)
	return nil
}

func RunConnectionRemove(cfg *ConnectionConfig) error {
	if cfg.LogicalName == "" {
		return errors.New("missing connection name")
	}
	if err := cfg.ConfigFile.Delete(cfg.LogicalName); err != nil {
		return fmt.Errorf("unable to delete connection %q from config: %v", cfg.LogicalName, err)
	}
	fmt.Printf("Connection %q removed\n", cfg.LogicalName)
	return nil
}
