package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/melkeydev/dbplus/config"
	"github.com/melkeydev/dbplus/databases/pool"
	"github.com/melkeydev/dbplus/types"
)

// SQLiteConnector stores every table in one file; the configured database
// name is accepted but not used to qualify tables.
type SQLiteConnector struct {
	*pool.Pool
	Dialect
}

func NewSQLiteConnector(cfg config.DatabaseConfig) (*SQLiteConnector, error) {
	file := cfg.File
	if file == "" {
		file = "database.db"
	}

	// SQLite allows one writer, and each ":memory:" connection is its own
	// database, so the pool is pinned to a single connection.
	p, err := pool.Open("sqlite3", file, pool.Options{MaxOpenConns: 1})
	if err != nil {
		return nil, err
	}

	connector := &SQLiteConnector{Pool: p}

	// Test the connection
	if err := connector.Ping(context.Background()); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return connector, nil
}

func (c *SQLiteConnector) DatabaseExists(context.Context, string) (bool, error) {
	return true, nil
}

func (c *SQLiteConnector) CreateDatabase(context.Context, string) error {
	return nil
}

func (c *SQLiteConnector) LoadColumns(ctx context.Context, _, table string) ([]types.ColumnDefinition, error) {
	var cols []struct {
		Name string `db:"name"`
		Type string `db:"type"`
	}
	if err := c.Select(ctx, &cols, `SELECT name, type FROM pragma_table_info(?)`, table); err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, nil
	}

	var keys []string
	if err := c.Select(ctx, &keys, `SELECT name FROM pragma_index_list(?)`, table); err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}

	out := make([]types.ColumnDefinition, 0, len(cols)+len(keys))
	for _, col := range cols {
		out = append(out, types.ParseColumnType(col.Name, col.Type))
	}
	for _, key := range keys {
		out = append(out, types.ColumnDefinition{Name: key, DataType: types.Key})
	}
	return out, nil
}

// Dialect renders SQLite statements. Declared types use the MySQL spellings so
// introspection reads back the same column families.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d Dialect) Table(_, table string) string {
	return d.Quote(table)
}

func (Dialect) ColumnType(col types.ColumnDefinition) string {
	switch col.DataType {
	case types.Varchar:
		return fmt.Sprintf("varchar(%d)", col.Length1)
	case types.Decimal:
		return fmt.Sprintf("decimal(%d,%d)", col.Length1, col.Length2)
	}
	return string(col.DataType)
}

func (d Dialect) CreateTable(database, table string, cols []types.ColumnDefinition, keys []types.SchemaKey) []string {
	defs := make([]string, 0, len(cols)+4)
	for _, col := range cols {
		defs = append(defs, d.Quote(col.Name)+" "+d.ColumnType(col))
	}
	defs = append(defs,
		`"created_at" timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP`,
		`"last_modified_at" timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP`,
		`PRIMARY KEY ("id")`,
	)

	// Keys are created as named indexes so introspection reports their names.
	var indexes []string
	for _, key := range keys {
		kw := "INDEX"
		if key.Kind == types.Unique {
			kw = "UNIQUE INDEX"
		}
		indexes = append(indexes, fmt.Sprintf("CREATE %s %s ON %s (%s)", kw, d.Quote(keyName(table, key)), d.Table(database, table), d.columnList(key.Fields)))
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE %s (%s)", d.Table(database, table), strings.Join(defs, ", "))}
	return append(stmts, indexes...)
}

func (d Dialect) AddColumn(database, table string, col types.ColumnDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.Table(database, table), d.Quote(col.Name), d.ColumnType(col))
}

// ModifyColumn needs no statement: SQLite column types are affinities and
// accept any value.
func (Dialect) ModifyColumn(string, string, types.ColumnDefinition) string {
	return ""
}

func (d Dialect) InsertIgnore(database, table string, cols []string) string {
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		d.Table(database, table), d.columnList(cols), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
}

func (Dialect) TouchOnUpdate() string {
	return `"last_modified_at" = CURRENT_TIMESTAMP`
}

func (Dialect) IsDuplicate(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func (d Dialect) columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	return strings.Join(quoted, ", ")
}

func keyName(table string, key types.SchemaKey) string {
	prefix := "idx"
	if key.Kind == types.Unique {
		prefix = "uniq"
	}
	return table + "_" + prefix + "_" + strings.Join(key.Fields, "_")
}
