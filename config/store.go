package config

import (
	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/rowio/badgerseq"
	"github.com/danmont/starpipe/rowio/memstore"
	"github.com/danmont/starpipe/rowio/sqlstore"
	"github.com/pkg/errors"
)

// OpenStore opens the named connection as a full row store.
// Memory stores do not survive the process; they exist for demo runs and tests.
func OpenStore(log logger.Logger, connectionName string) (rowio.Store, error) {
	conn, err := Connections.GetConnectionDetails(connectionName)
	if err != nil {
		return nil, err
	}
	switch conn.Type {
	case c.ConnectionTypeMemory:
		return memstore.NewMemStore(), nil
	case c.ConnectionTypeMysql:
		return sqlstore.NewSqlStore(log, conn.Dsn(connectionName))
	default:
		return nil, errors.Errorf("connection %q has unsupported store type %q", connectionName, conn.Type)
	}
}

// OpenSequence opens the surrogate key sequence for a run. With no dedicated
// sequence connection configured the warehouse store allocates keys itself.
func OpenSequence(log logger.Logger, connectionName string, warehouse rowio.Store) (rowio.Sequence, error) {
	if connectionName == "" {
		return warehouse, nil
	}
	conn, err := Connections.GetConnectionDetails(connectionName)
	if err != nil {
		return nil, err
	}
	switch conn.Type {
	case c.ConnectionTypeBadger:
		return badgerseq.New(badgerseq.Options{
			Path:     conn.Data["path"],
			InMemory: conn.Data["inMemory"] == "true",
		})
	case c.ConnectionTypeMemory, c.ConnectionTypeMysql:
		return OpenStore(log, connectionName)
	default:
		return nil, errors.Errorf("connection %q has unsupported sequence type %q", connectionName, conn.Type)
	}
}
