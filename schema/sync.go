package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/melkeydev/dbplus/databases"
	"github.com/melkeydev/dbplus/names"
	"github.com/melkeydev/dbplus/types"
)

// Server-maintained audit columns added to every synchronized table.
const (
	CreatedAt      = "created_at"
	LastModifiedAt = "last_modified_at"
)

// ColumnFailure is one schema statement that failed.
type ColumnFailure struct {
	Column    string
	Statement string
	Err       error
}

// MigrationError reports schema statements that failed during a sync. The
// remaining statements were still applied.
type MigrationError struct {
	Table    string
	Failures []ColumnFailure
}

func (e *MigrationError) Error() string {
	cols := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		cols[i] = f.Column
	}
	return fmt.Sprintf("schema migration of %s failed for %s", e.Table, strings.Join(cols, ", "))
}

func (e *MigrationError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Synchronizer creates or alters tables so their shape is a superset of the
// records written to them. Schema changes are serialized per table within the
// process; nothing coordinates with other processes.
type Synchronizer struct {
	conn     databases.Connector
	database string
	catalog  *Catalog
	registry *Registry
	keys     map[string][]types.SchemaKey
	logger   *slog.Logger

	locks sync.Map
}

func NewSynchronizer(conn databases.Connector, database string, catalog *Catalog, registry *Registry, keys map[string][]types.SchemaKey, logger *slog.Logger) *Synchronizer {
	normalized := make(map[string][]types.SchemaKey, len(keys))
	for table, ks := range keys {
		for _, k := range ks {
			fields := make([]string, len(k.Fields))
			for i, f := range k.Fields {
				fields[i] = names.Stored(f)
			}
			normalized[names.Stored(table)] = append(normalized[names.Stored(table)], types.SchemaKey{Fields: fields, Kind: k.Kind})
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		conn:     conn,
		database: database,
		catalog:  catalog,
		registry: registry,
		keys:     normalized,
		logger:   logger,
	}
}

// Sync brings table in line with rec and returns the resulting definition.
// Field names of rec are converted to stored identifiers. A *MigrationError
// is returned alongside the definition when some statements failed.
func (s *Synchronizer) Sync(ctx context.Context, table string, rec types.Record) (*types.TableDefinition, error) {
	mu := s.lock(table)
	mu.Lock()
	defer mu.Unlock()

	def, err := s.catalog.Definition(ctx, table)
	if err != nil {
		return nil, err
	}

	candidates := s.candidates(rec, def)
	if len(candidates) == 0 {
		return def, nil
	}

	if def == nil {
		return s.create(ctx, table, rec, candidates)
	}
	return s.alter(ctx, table, def, candidates)
}

func (s *Synchronizer) lock(table string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(strings.ToLower(table), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// candidates classifies every field of rec, with id first.
func (s *Synchronizer) candidates(rec types.Record, def *types.TableDefinition) []types.ColumnDefinition {
	var cols []types.ColumnDefinition
	index := make(map[string]int)
	for _, f := range rec {
		name := names.Stored(f.Name)
		if name == "" {
			continue
		}
		var existing *types.ColumnDefinition
		if c, ok := def.Column(name); ok {
			existing = &c
		}
		col := Classify(name, f.Value, existing)
		col.Definition = s.conn.ColumnType(col)

		if i, ok := index[name]; ok {
			cols[i] = col
			continue
		}
		index[name] = len(cols)
		cols = append(cols, col)
	}

	if i, ok := index["id"]; ok && i > 0 {
		id := cols[i]
		copy(cols[1:i+1], cols[:i])
		cols[0] = id
	}
	return cols
}

func (s *Synchronizer) create(ctx context.Context, table string, rec types.Record, cols []types.ColumnDefinition) (*types.TableDefinition, error) {
	keys := s.applicableKeys(table, cols)
	stmts := s.conn.CreateTable(s.database, table, cols, keys)

	s.logger.Info("creating table", "table", table, "statement", stmts[0])
	if _, err := s.conn.Exec(ctx, stmts[0]); err != nil {
		s.logger.Error("create table failed", "table", table, "error", err)
		return nil, &MigrationError{Table: table, Failures: []ColumnFailure{{Column: "*", Statement: stmts[0], Err: err}}}
	}

	var migrationErr *MigrationError
	for _, stmt := range stmts[1:] {
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			s.logger.Error("create index failed", "table", table, "statement", stmt, "error", err)
			migrationErr = appendFailure(migrationErr, table, ColumnFailure{Column: "*", Statement: stmt, Err: err})
		}
	}

	def := &types.TableDefinition{Name: table, Columns: append(cols,
		types.ColumnDefinition{Name: CreatedAt, DataType: types.Timestamp, Definition: "timestamp"},
		types.ColumnDefinition{Name: LastModifiedAt, DataType: types.Timestamp, Definition: "timestamp"},
	)}
	s.catalog.Put(def)

	if err := s.registry.Register(ctx, table); err != nil {
		s.logger.Error("entity registration failed", "table", table, "error", err)
	}

	if migrationErr != nil {
		return def, migrationErr
	}
	return def, nil
}

// applicableKeys returns the configured keys whose fields are all present.
func (s *Synchronizer) applicableKeys(table string, cols []types.ColumnDefinition) []types.SchemaKey {
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c.Name] = true
	}

	var out []types.SchemaKey
	for _, k := range s.keys[names.Stored(table)] {
		ok := len(k.Fields) > 0
		for _, f := range k.Fields {
			ok = ok && present[f]
		}
		if ok {
			out = append(out, k)
		}
	}
	return out
}

func (s *Synchronizer) alter(ctx context.Context, table string, def *types.TableDefinition, cols []types.ColumnDefinition) (*types.TableDefinition, error) {
	type change struct {
		col  types.ColumnDefinition
		stmt string
		add  bool
	}

	var changes []change
	for _, col := range cols {
		old, ok := def.Column(col.Name)
		if !ok {
			changes = append(changes, change{col: col, stmt: s.conn.AddColumn(s.database, table, col), add: true})
			continue
		}
		if !ShouldWiden(old, col) || s.conn.ColumnType(old) == col.Definition {
			continue
		}
		col.Name = old.Name
		changes = append(changes, change{col: col, stmt: s.conn.ModifyColumn(s.database, table, col)})
	}

	var migrationErr *MigrationError
	for _, c := range changes {
		if c.stmt != "" {
			s.logger.Info("altering table", "table", table, "statement", c.stmt)
			if _, err := s.conn.Exec(ctx, c.stmt); err != nil {
				s.logger.Error("alter table failed", "table", table, "column", c.col.Name, "error", err)
				migrationErr = appendFailure(migrationErr, table, ColumnFailure{Column: c.col.Name, Statement: c.stmt, Err: err})
				continue
			}
		}
		if c.add {
			s.catalog.AddColumn(table, c.col)
		} else {
			s.catalog.ReplaceColumn(table, c.col)
		}
	}

	updated, err := s.catalog.Definition(ctx, table)
	if err != nil {
		return nil, err
	}
	if migrationErr != nil {
		return updated, migrationErr
	}
	return updated, nil
}

func appendFailure(e *MigrationError, table string, f ColumnFailure) *MigrationError {
	if e == nil {
		e = &MigrationError{Table: table}
	}
	e.Failures = append(e.Failures, f)
	return e
}
