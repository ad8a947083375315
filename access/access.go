// Package access is the permissioned entry point for reading, writing and
// deleting records. Writes evolve the target table to fit the record, and
// every committed change is published on the event bus.
package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/melkeydev/dbplus/config"
	"github.com/melkeydev/dbplus/databases"
	"github.com/melkeydev/dbplus/events"
	"github.com/melkeydev/dbplus/names"
	"github.com/melkeydev/dbplus/schema"
	"github.com/melkeydev/dbplus/types"
)

// Defaults enriches a record before it is written, for example with tenant or
// owner fields. table is the external identifier; session is whatever the
// caller passed to WithSession.
type Defaults func(database, table string, rec types.Record, session any) types.Record

type Option func(*Access)

func WithDefaults(fn Defaults) Option {
	return func(a *Access) { a.defaults = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Access) { a.logger = logger }
}

func WithSchemaKeys(keys map[string][]types.SchemaKey) Option {
	return func(a *Access) { a.keys = keys }
}

func WithAuditTrail(cfg config.AuditTrailConfig) Option {
	return func(a *Access) { a.audit = cfg }
}

// WithFailOnMissingDatabase makes New fail instead of creating a missing
// database.
func WithFailOnMissingDatabase(fail bool) Option {
	return func(a *Access) { a.failOnMissing = fail }
}

type Access struct {
	conn     databases.Connector
	database string
	logger   *slog.Logger

	catalog  *schema.Catalog
	registry *schema.Registry
	sync     *schema.Synchronizer
	bus      *events.Bus

	defaults      Defaults
	keys          map[string][]types.SchemaKey
	audit         config.AuditTrailConfig
	failOnMissing bool
}

// New prepares database on conn and returns an Access bound to it. The
// connector is closed when preparation fails.
func New(ctx context.Context, conn databases.Connector, database string, opts ...Option) (*Access, error) {
	a := &Access{
		conn:     conn,
		database: database,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.catalog = schema.NewCatalog(conn, database)
	a.registry = schema.NewRegistry(conn, database)
	a.sync = schema.NewSynchronizer(conn, database, a.catalog, a.registry, a.keys, a.logger)
	a.bus = events.NewBus(a.logger)

	if err := a.catalog.EnsureDatabase(ctx, a.failOnMissing, a.logger); err != nil {
		conn.Close()
		return nil, err
	}
	if err := a.registry.Ensure(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if a.audit.IsEnabled() {
		a.bus.Subscribe(a.auditTrail(a.audit.SkipTables))
	}

	return a, nil
}

// Open connects to the store described by cfg. Options given here are applied
// after the ones derived from cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Access, error) {
	conn, err := databases.NewConnector(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}

	base := []Option{
		WithSchemaKeys(cfg.SchemaKeys),
		WithAuditTrail(cfg.AuditTrail),
		WithFailOnMissingDatabase(cfg.Database.FailOnMissingDB),
	}
	return New(ctx, conn, cfg.Database.Name, append(base, opts...)...)
}

func (a *Access) Database() string {
	return a.database
}

// Events returns the bus every committed change is published on.
func (a *Access) Events() *events.Bus {
	return a.bus
}

// Definition returns the current shape of table, or nil when it does not
// exist.
func (a *Access) Definition(ctx context.Context, table string) (*types.TableDefinition, error) {
	return a.catalog.Definition(ctx, names.Stored(table))
}

func (a *Access) TableExists(ctx context.Context, table string) (bool, error) {
	def, err := a.Definition(ctx, table)
	if err != nil {
		return false, err
	}
	return def != nil, nil
}

// Query runs raw SQL without permission checks or schema synchronization.
func (a *Access) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return a.conn.Query(ctx, query, args...)
}

// Destroy stops event delivery and closes the connection pool.
func (a *Access) Destroy() error {
	a.bus.Close()
	return a.conn.Close()
}
