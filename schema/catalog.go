package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/melkeydev/dbplus/databases"
	"github.com/melkeydev/dbplus/types"
	"golang.org/x/sync/singleflight"
)

var ErrMissingDatabase = errors.New("database does not exist")

// Catalog caches table definitions for the life of the process. Entries are
// loaded lazily from the store and changed only after a schema statement
// succeeds; changes made by other processes are not seen.
type Catalog struct {
	conn     databases.Connector
	database string

	mu     sync.RWMutex
	tables map[string]*types.TableDefinition
	loads  singleflight.Group
}

func NewCatalog(conn databases.Connector, database string) *Catalog {
	return &Catalog{
		conn:     conn,
		database: database,
		tables:   make(map[string]*types.TableDefinition),
	}
}

// Definition returns a copy of the definition of table, or nil when the table
// does not exist.
func (c *Catalog) Definition(ctx context.Context, table string) (*types.TableDefinition, error) {
	key := strings.ToLower(table)
	if def, ok := c.cached(key); ok {
		return def, nil
	}

	_, err, _ := c.loads.Do(key, func() (any, error) {
		cols, err := c.conn.LoadColumns(ctx, c.database, table)
		if err != nil {
			return nil, fmt.Errorf("failed to introspect %s: %w", table, err)
		}
		if cols == nil {
			return nil, nil
		}
		c.mu.Lock()
		if _, ok := c.tables[key]; !ok {
			c.tables[key] = &types.TableDefinition{Name: table, Columns: cols}
		}
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	def, _ := c.cached(key)
	return def, nil
}

// cached copies the cached definition while the lock is held; AddColumn and
// ReplaceColumn mutate entries in place.
func (c *Catalog) cached(key string) (*types.TableDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.tables[key]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

func (c *Catalog) Put(def *types.TableDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[strings.ToLower(def.Name)] = def.Clone()
}

func (c *Catalog) AddColumn(table string, col types.ColumnDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if def, ok := c.tables[strings.ToLower(table)]; ok {
		def.Columns = append(def.Columns, col)
	}
}

// ReplaceColumn swaps the cached column with the same name for col.
func (c *Catalog) ReplaceColumn(table string, col types.ColumnDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.tables[strings.ToLower(table)]
	if !ok {
		return
	}
	for i := range def.Columns {
		if strings.EqualFold(def.Columns[i].Name, col.Name) {
			def.Columns[i] = col
			return
		}
	}
}

// EnsureDatabase creates the target database when it is missing, unless
// failOnMissing is set, in which case ErrMissingDatabase is returned.
func (c *Catalog) EnsureDatabase(ctx context.Context, failOnMissing bool, logger *slog.Logger) error {
	exists, err := c.conn.DatabaseExists(ctx, c.database)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if failOnMissing {
		return fmt.Errorf("%w: %s", ErrMissingDatabase, c.database)
	}

	logger.Info("creating database", "database", c.database)
	return c.conn.CreateDatabase(ctx, c.database)
}

// EntitiesTable lists every table created through the synchronizer.
const EntitiesTable = "_entities"

// Registry records table names in the entities table. Registration is
// idempotent.
type Registry struct {
	conn     databases.Connector
	database string

	mu    sync.Mutex
	known map[string]bool
}

func NewRegistry(conn databases.Connector, database string) *Registry {
	return &Registry{conn: conn, database: database, known: make(map[string]bool)}
}

// Ensure creates the entities table if it does not exist.
func (r *Registry) Ensure(ctx context.Context) error {
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s varchar(255) NOT NULL, PRIMARY KEY (%s))",
		r.conn.Table(r.database, EntitiesTable), r.conn.Quote("name"), r.conn.Quote("name"))
	if _, err := r.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s: %w", EntitiesTable, err)
	}
	return nil
}

func (r *Registry) Register(ctx context.Context, table string) error {
	r.mu.Lock()
	seen := r.known[table]
	r.mu.Unlock()
	if seen {
		return nil
	}

	if _, err := r.conn.Exec(ctx, r.conn.InsertIgnore(r.database, EntitiesTable, []string{"name"}), table); err != nil {
		return fmt.Errorf("failed to register %s: %w", table, err)
	}

	r.mu.Lock()
	r.known[table] = true
	r.mu.Unlock()
	return nil
}
