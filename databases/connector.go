package databases

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/melkeydev/dbplus/config"
	"github.com/melkeydev/dbplus/databases/mysql"
	"github.com/melkeydev/dbplus/databases/postgres"
	"github.com/melkeydev/dbplus/databases/sqlite"
	"github.com/melkeydev/dbplus/types"
)

// Dialect renders the statements the schema engine and access layer issue.
// Statements use '?' placeholders; the pool rebinds them per driver.
type Dialect interface {
	Name() string
	Quote(ident string) string
	// Table returns the qualified, quoted name of table inside database.
	Table(database, table string) string
	ColumnType(col types.ColumnDefinition) string
	CreateTable(database, table string, cols []types.ColumnDefinition, keys []types.SchemaKey) []string
	AddColumn(database, table string, col types.ColumnDefinition) string
	// ModifyColumn returns "" when the store needs no statement to widen col.
	ModifyColumn(database, table string, col types.ColumnDefinition) string
	InsertIgnore(database, table string, cols []string) string
	// TouchOnUpdate is appended to UPDATE set lists on stores without an
	// auto-updating timestamp column.
	TouchOnUpdate() string
	IsDuplicate(err error) bool
}

// Connector is a Dialect bound to a live connection pool.
type Connector interface {
	Dialect
	Ping(ctx context.Context) error
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	DatabaseExists(ctx context.Context, database string) (bool, error)
	CreateDatabase(ctx context.Context, database string) error
	// LoadColumns returns nil when the table does not exist.
	LoadColumns(ctx context.Context, database, table string) ([]types.ColumnDefinition, error)
	Close() error
}

var (
	_ Connector = (*mysql.MySQLConnector)(nil)
	_ Connector = (*postgres.PostgresConnector)(nil)
	_ Connector = (*sqlite.SQLiteConnector)(nil)
)

func NewConnector(cfg config.DatabaseConfig) (Connector, error) {
	switch cfg.DBType {
	case "mysql":
		return mysql.NewMySQLConnector(cfg)
	case "postgres":
		return postgres.NewPostgresConnector(cfg)
	case "sqlite":
		return sqlite.NewSQLiteConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported Database type: %s", cfg.DBType)
	}
}
