package db

import (
	"database/sql"
	"database/sql/driver"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
	"modernc.org/sqlite"
)

// foldFunc is the SQL name of the Unicode case-folding scalar registered on
// both drivers. Substring filters compare fold(column) against a pattern
// folded by foldCase, so both sides agree beyond ASCII.
const foldFunc = "fold"

// cgoDriverName is the database/sql name under which the mattn driver is
// registered with foldFunc installed on every connection.
const cgoDriverName = "sqlite3_tracker"

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(foldFunc, 1, foldScalar); err != nil {
		panic(fmt.Sprintf("register %s for modernc: %v", foldFunc, err))
	}
	sql.Register(cgoDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(foldFunc, foldCase, true)
		},
	})
}

// foldCase returns the full Unicode case fold of s. A Caser keeps state, so
// each call gets its own.
func foldCase(s string) string {
	return cases.Fold().String(s)
}

func foldScalar(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return foldCase(v), nil
	case []byte:
		return foldCase(string(v)), nil
	default:
		return v, nil
	}
}
