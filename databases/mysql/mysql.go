package mysql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/melkeydev/dbplus/config"
	"github.com/melkeydev/dbplus/databases/pool"
	"github.com/melkeydev/dbplus/types"
)

const (
	textCharset = "character set utf8mb4 collate utf8mb4_unicode_ci"

	errDuplicateEntry = 1062
)

type MySQLConnector struct {
	*pool.Pool
	Dialect
}

func NewMySQLConnector(cfg config.DatabaseConfig) (*MySQLConnector, error) {
	dsn, err := connectionString(cfg)
	if err != nil {
		return nil, err
	}

	p, err := pool.Open("mysql", dsn, pool.Options{
		MaxOpenConns: cfg.PoolSize,
		IdleTimeout:  cfg.KeepAlive.IdleTimeout,
		MaxLifetime:  cfg.KeepAlive.MaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	connector := &MySQLConnector{Pool: p}

	if err := connector.Ping(context.Background()); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return connector, nil
}

// connectionString never selects a default database; every statement
// qualifies its table with the configured one.
func connectionString(cfg config.DatabaseConfig) (string, error) {
	var c *mysql.Config
	if cfg.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(cfg.ConnectionString)
		if err != nil {
			return "", fmt.Errorf("failed to parse connection string: %w", err)
		}
		c = parsed
	} else {
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		c = mysql.NewConfig()
		c.User = cfg.User
		c.Passwd = cfg.Password
		c.Net = "tcp"
		c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	}
	c.DBName = ""
	c.ParseTime = true
	return c.FormatDSN(), nil
}

func (c *MySQLConnector) DatabaseExists(ctx context.Context, database string) (bool, error) {
	rows, err := c.Query(ctx, `SELECT COUNT(*) AS n FROM information_schema.schemata WHERE schema_name = ?`, database)
	if err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}
	return len(rows) > 0 && count(rows[0]["n"]) > 0, nil
}

func (c *MySQLConnector) CreateDatabase(ctx context.Context, database string) error {
	query := fmt.Sprintf("CREATE DATABASE %s CHARACTER SET 'utf8mb4' COLLATE 'utf8mb4_0900_ai_ci'", c.Quote(database))
	if _, err := c.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create database %s: %w", database, err)
	}
	return nil
}

func (c *MySQLConnector) LoadColumns(ctx context.Context, database, table string) ([]types.ColumnDefinition, error) {
	var cols []struct {
		Name string `db:"name"`
		Type string `db:"type"`
	}
	err := c.Select(ctx, &cols, `
		SELECT column_name AS name, column_type AS type
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
	`, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, nil
	}

	var keys []string
	err = c.Select(ctx, &keys, `
		SELECT DISTINCT index_name AS name
		FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ?
	`, database, table)
	if err != nil {
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

// Dialect renders MySQL statements. It holds no connection and is safe to use
// on its own.
type Dialect struct{}

func (Dialect) Name() string { return "mysql" }

func (Dialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (d Dialect) Table(database, table string) string {
	return d.Quote(database) + "." + d.Quote(table)
}

func (Dialect) ColumnType(col types.ColumnDefinition) string {
	switch col.DataType {
	case types.Varchar:
		return fmt.Sprintf("varchar(%d) %s", col.Length1, textCharset)
	case types.Text, types.MediumText, types.LongText:
		return fmt.Sprintf("%s %s", col.DataType, textCharset)
	case types.Decimal:
		return fmt.Sprintf("decimal(%d,%d)", col.Length1, col.Length2)
	}
	return string(col.DataType)
}

func (d Dialect) CreateTable(database, table string, cols []types.ColumnDefinition, keys []types.SchemaKey) []string {
	defs := make([]string, 0, len(cols)+4+len(keys))
	for _, col := range cols {
		defs = append(defs, d.Quote(col.Name)+" "+d.ColumnType(col))
	}
	defs = append(defs,
		"`created_at` timestamp not null default current_timestamp",
		"`last_modified_at` timestamp not null default current_timestamp on update current_timestamp",
		"PRIMARY KEY (`id`)",
	)
	for _, key := range keys {
		kw := "KEY"
		if key.Kind == types.Unique {
			kw = "UNIQUE KEY"
		}
		defs = append(defs, fmt.Sprintf("%s %s (%s)", kw, d.Quote(keyName(table, key)), d.columnList(key.Fields)))
	}
	return []string{fmt.Sprintf("CREATE TABLE %s (%s)", d.Table(database, table), strings.Join(defs, ", "))}
}

func (d Dialect) AddColumn(database, table string, col types.ColumnDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.Table(database, table), d.Quote(col.Name), d.ColumnType(col))
}

func (d Dialect) ModifyColumn(database, table string, col types.ColumnDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s MODIFY %s %s", d.Table(database, table), d.Quote(col.Name), d.ColumnType(col))
}

func (d Dialect) InsertIgnore(database, table string, cols []string) string {
	return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", d.Table(database, table), d.columnList(cols), placeholders(len(cols)))
}

func (Dialect) TouchOnUpdate() string { return "" }

func (Dialect) IsDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func count(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	}
	return 0
}
