package shardroute

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"

	"github.com/pkg/errors"
)

// newEmptyPool returns a pool for statements routed nowhere: queries yield no rows and
// writes affect none. No connection to any datasource is opened.
func newEmptyPool() *sql.DB {
	return sql.OpenDB(emptyConnector{})
}

type emptyConnector struct{}

func (emptyConnector) Connect(context.Context) (driver.Conn, error) {
	return emptyConn{}, nil
}

func (emptyConnector) Driver() driver.Driver {
	return emptyDriver{}
}

type emptyDriver struct{}

func (emptyDriver) Open(string) (driver.Conn, error) {
	return emptyConn{}, nil
}

type emptyConn struct{}

func (emptyConn) Prepare(string) (driver.Stmt, error) {
	return emptyStmt{}, nil
}

func (emptyConn) Close() error {
	return nil
}

func (emptyConn) Begin() (driver.Tx, error) {
	return nil, errors.New("empty route has no transaction")
}

type emptyStmt struct{}

func (emptyStmt) Close() error {
	return nil
}

// NumInput -1 accepts any argument count.
func (emptyStmt) NumInput() int {
	return -1
}

func (emptyStmt) Exec([]driver.Value) (driver.Result, error) {
	return driver.RowsAffected(0), nil
}

func (emptyStmt) Query([]driver.Value) (driver.Rows, error) {
	return emptyRows{}, nil
}

type emptyRows struct{}

func (emptyRows) Columns() []string {
	return nil
}

func (emptyRows) Close() error {
	return nil
}

func (emptyRows) Next([]driver.Value) error {
	return io.EOF
}
