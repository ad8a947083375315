package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/dbplus/config"
	"github.com/melkeydev/dbplus/databases/pool"
	"github.com/melkeydev/dbplus/types"
)

const uniqueViolation = "23505"

// PostgresConnector maps the configured database onto a schema inside the
// connected Postgres database.
type PostgresConnector struct {
	*pool.Pool
	Dialect
}

func NewPostgresConnector(cfg config.DatabaseConfig) (*PostgresConnector, error) {
	pgConfig, err := pgx.ParseConfig(connectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pgConfig.PreferSimpleProtocol = true

	db := sqlx.NewDb(stdlib.OpenDB(*pgConfig), "pgx")

	connector := &PostgresConnector{
		Pool: pool.New(db, pool.Options{
			MaxOpenConns: cfg.PoolSize,
			IdleTimeout:  cfg.KeepAlive.IdleTimeout,
			MaxLifetime:  cfg.KeepAlive.MaxLifetime,
		}),
	}

	if err := connector.Ping(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return connector, nil
}

func connectionString(cfg config.DatabaseConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
	}
	return u.String()
}

func (c *PostgresConnector) DatabaseExists(ctx context.Context, database string) (bool, error) {
	var n []int64
	err := c.Select(ctx, &n, `SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?`, database)
	if err != nil {
		return false, fmt.Errorf("failed to check schema existence: %w", err)
	}
	return len(n) > 0 && n[0] > 0, nil
}

func (c *PostgresConnector) CreateDatabase(ctx context.Context, database string) error {
	if _, err := c.Exec(ctx, "CREATE SCHEMA "+c.Quote(database)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", database, err)
	}
	return nil
}

func (c *PostgresConnector) LoadColumns(ctx context.Context, database, table string) ([]types.ColumnDefinition, error) {
	var cols []struct {
		Name      string `db:"name"`
		Type      string `db:"type"`
		Length    int    `db:"char_length"`
		Precision int    `db:"num_precision"`
		Scale     int    `db:"num_scale"`
	}
	err := c.Select(ctx, &cols, `
		SELECT column_name AS name, data_type AS type,
			COALESCE(character_maximum_length, 0) AS char_length,
			COALESCE(numeric_precision, 0) AS num_precision,
			COALESCE(numeric_scale, 0) AS num_scale
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
	err = c.Select(ctx, &keys, `SELECT indexname FROM pg_indexes WHERE schemaname = ? AND tablename = ?`, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}

	out := make([]types.ColumnDefinition, 0, len(cols)+len(keys))
	for _, col := range cols {
		def := types.ColumnDefinition{Name: col.Name}
		switch col.Type {
		case "character varying", "character":
			def.DataType, def.Length1 = types.Varchar, col.Length
		case "numeric":
			def.DataType, def.Length1, def.Length2 = types.Decimal, col.Precision, col.Scale
		case "text":
			def.DataType, def.Length1 = types.Text, types.TextLength
		case "integer":
			def.DataType = types.Int
		case "smallint", "bigint", "boolean":
			def.DataType = types.DataType(col.Type)
		default:
			if strings.HasPrefix(col.Type, "timestamp") {
				def.DataType = types.Timestamp
			} else {
				def.DataType = types.DataType(col.Type)
			}
		}
		def.Definition = c.ColumnType(def)
		out = append(out, def)
	}
	for _, key := range keys {
		out = append(out, types.ColumnDefinition{Name: key, DataType: types.Key})
	}
	return out, nil
}

type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d Dialect) Table(database, table string) string {
	return d.Quote(database) + "." + d.Quote(table)
}

func (Dialect) ColumnType(col types.ColumnDefinition) string {
	switch col.DataType {
	case types.MediumInt, types.Int:
		return "integer"
	case types.Varchar:
		return fmt.Sprintf("varchar(%d)", max(col.Length1, 1))
	case types.Text, types.MediumText, types.LongText:
		return "text"
	case types.Decimal:
		return fmt.Sprintf("numeric(%d,%d)", max(col.Length1, 1), col.Length2)
	}
	return string(col.DataType)
}

func (d Dialect) CreateTable(database, table string, cols []types.ColumnDefinition, keys []types.SchemaKey) []string {
	defs := make([]string, 0, len(cols)+4)
	for _, col := range cols {
		defs = append(defs, d.Quote(col.Name)+" "+d.ColumnType(col))
	}
	defs = append(defs,
		`"created_at" timestamp not null default current_timestamp`,
		`"last_modified_at" timestamp not null default current_timestamp`,
		`PRIMARY KEY ("id")`,
	)

	var indexes []string
	for _, key := range keys {
		name := d.Quote(keyName(table, key))
		if key.Kind == types.Unique {
			defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", name, d.columnList(key.Fields)))
			continue
		}
		indexes = append(indexes, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, d.Table(database, table), d.columnList(key.Fields)))
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE %s (%s)", d.Table(database, table), strings.Join(defs, ", "))}
	return append(stmts, indexes...)
}

func (d Dialect) AddColumn(database, table string, col types.ColumnDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.Table(database, table), d.Quote(col.Name), d.ColumnType(col))
}

func (d Dialect) ModifyColumn(database, table string, col types.ColumnDefinition) string {
	typ := d.ColumnType(col)
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		d.Table(database, table), d.Quote(col.Name), typ, d.Quote(col.Name), typ)
}

func (d Dialect) InsertIgnore(database, table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		d.Table(database, table), d.columnList(cols), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
}

func (Dialect) TouchOnUpdate() string {
	return `"last_modified_at" = current_timestamp`
}

func (Dialect) IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
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
