// Package pool is the connection provider shared by every store connector.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/jmoiron/sqlx"
)

type Options struct {
	MaxOpenConns int
	IdleTimeout  time.Duration
	MaxLifetime  time.Duration
}

// Pool runs statements written with '?' placeholders against any sqlx driver,
// rebinding them for the driver and expanding slice arguments into IN lists.
type Pool struct {
	db *sqlx.DB
}

func Open(driverName, dsn string, opts Options) (*Pool, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(db, opts), nil
}

func New(db *sqlx.DB, opts Options) *Pool {
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}
	if opts.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(opts.IdleTimeout)
	}
	if opts.MaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.MaxLifetime)
	}
	return &Pool{db: db}
}

func (p *Pool) DB() *sqlx.DB {
	return p.db
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query, args, err := p.bind(query, args)
	if err != nil {
		return nil, err
	}
	return p.db.ExecContext(ctx, query, args...)
}

// Query returns every row as a column-name keyed map.
func (p *Pool) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	query, args, err := p.bind(query, args)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query db: %w", err)
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("unable to scan row: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to read rows: %w", err)
	}

	return results, nil
}

// Select scans every row into dest, a pointer to a slice of structs.
func (p *Pool) Select(ctx context.Context, dest any, query string, args ...any) error {
	query, args, err := p.bind(query, args)
	if err != nil {
		return err
	}
	return p.db.SelectContext(ctx, dest, query, args...)
}

func (p *Pool) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *Pool) bind(query string, args []any) (string, []any, error) {
	if hasSlice(args) {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return "", nil, fmt.Errorf("failed to expand arguments: %w", err)
		}
	}
	return p.db.Rebind(query), args, nil
}

func hasSlice(args []any) bool {
	for _, a := range args {
		if a == nil {
			continue
		}
		if _, ok := a.([]byte); ok {
			continue
		}
		if k := reflect.TypeOf(a).Kind(); k == reflect.Slice || k == reflect.Array {
			return true
		}
	}
	return false
}
