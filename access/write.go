package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/melkeydev/dbplus/events"
	"github.com/melkeydev/dbplus/names"
	"github.com/melkeydev/dbplus/permissions"
	"github.com/melkeydev/dbplus/schema"
	"github.com/melkeydev/dbplus/types"
	"github.com/melkeydev/dbplus/value"
)

type writeOptions struct {
	session any
}

type WriteOption func(*writeOptions)

// WithSession passes session to the Defaults function.
func WithSession(session any) WriteOption {
	return func(o *writeOptions) { o.session = session }
}

// TryWrite stores rec in table and returns the record as written, including a
// generated id. The table is created or widened to fit rec first. A record
// whose id already exists is updated instead.
func (a *Access) TryWrite(ctx context.Context, policy permissions.Policy, table string, rec types.Record, opts ...WriteOption) (types.Record, Outcome) {
	if err := permissions.Check(policy, permissions.Write, table, rec.Keys()); err != nil {
		return rec, denied(err)
	}

	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	stored := names.Stored(table)
	rec = rec.Clone()
	if a.defaults != nil {
		rec = a.defaults(a.database, names.External(table), rec, o.session)
	}
	for _, k := range sortedKeys(policy.Qualifiers) {
		setStored(&rec, k, policy.Qualifiers[k])
	}
	rec.DeleteFunc(isServerTimestamp)
	if id, ok := lookupStored(rec, "id"); !ok || value.IsNull(id) {
		setStored(&rec, "id", uuid.Must(uuid.NewV7()).String())
	}

	def, err := a.sync.Sync(ctx, stored, rec)
	var migrationErr *schema.MigrationError
	if err != nil && !errors.As(err, &migrationErr) {
		a.logger.Error("schema sync failed", "table", stored, "error", err)
		return rec, storeFailure("sync", stored, err)
	}
	if migrationErr != nil {
		a.logger.Warn("schema partially migrated", "table", stored, "error", migrationErr)
	}

	change, err := a.insertOrUpdate(ctx, policy, stored, def, rec)
	if err != nil {
		return rec, storeFailure(change, stored, err)
	}
	if change == "" {
		return rec, ok()
	}

	changeType := events.Inserted
	if change == "update" {
		changeType = events.Updated
	}
	a.bus.Publish(ctx, events.Event{
		Type:     changeType,
		Table:    names.External(table),
		Database: a.database,
		Payload:  rec.Clone(),
	})
	if err := a.registry.Register(ctx, stored); err != nil {
		a.logger.Error("entity registration failed", "table", stored, "error", err)
	}

	if migrationErr != nil {
		return rec, Outcome{Status: StatusMigrationPartial, Err: migrationErr}
	}
	return rec, ok()
}

// Write is TryWrite that only reports permission denials. Store failures are
// logged and the record is returned as if written.
func (a *Access) Write(ctx context.Context, policy permissions.Policy, table string, rec types.Record, opts ...WriteOption) (types.Record, error) {
	out, o := a.TryWrite(ctx, policy, table, rec, opts...)
	return out, softError(o)
}

// insertOrUpdate returns "insert" or "update" for the statement that took
// effect, or "" when there was nothing to update. On failure it returns the
// statement kind that failed.
func (a *Access) insertOrUpdate(ctx context.Context, policy permissions.Policy, table string, def *types.TableDefinition, rec types.Record) (string, error) {
	cols := storedColumns(rec)

	quoted := make([]string, len(cols))
	values := make([]string, len(cols))
	var args []any
	for i, c := range cols {
		quoted[i] = a.conn.Quote(c.name)
		if value.IsNull(c.val) {
			values[i] = "NULL"
			continue
		}
		values[i] = "?"
		args = append(args, bindValue(c.val, columnOf(def, c.name)))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		a.conn.Table(a.database, table), strings.Join(quoted, ", "), strings.Join(values, ", "))
	_, err := a.conn.Exec(ctx, query, args...)
	if err == nil {
		return "insert", nil
	}
	if !a.conn.IsDuplicate(err) {
		a.logger.Error("insert failed", "table", table, "query", query, "error", err)
		return "insert", err
	}

	return a.update(ctx, policy, table, def, cols)
}

// update rewrites the row with the same id, leaving id and internal fields
// alone and scoping the statement to the policy qualifiers.
func (a *Access) update(ctx context.Context, policy permissions.Policy, table string, def *types.TableDefinition, cols []column) (string, error) {
	var sets []string
	var args []any
	var id value.Value
	for _, c := range cols {
		if c.name == "id" {
			id = c.val
			continue
		}
		if strings.HasPrefix(c.name, "_") {
			continue
		}
		if value.IsNull(c.val) {
			sets = append(sets, a.conn.Quote(c.name)+" = NULL")
			continue
		}
		sets = append(sets, a.conn.Quote(c.name)+" = ?")
		args = append(args, bindValue(c.val, columnOf(def, c.name)))
	}
	if len(sets) == 0 {
		return "", nil
	}
	if touch := a.conn.TouchOnUpdate(); touch != "" {
		sets = append(sets, touch)
	}

	where, whereArgs := a.predicate(def, mergeWhere(map[string]any{"id": value.Native(id)}, policy.Qualifiers))
	query := fmt.Sprintf("UPDATE %s SET %s%s", a.conn.Table(a.database, table), strings.Join(sets, ", "), where)
	if _, err := a.conn.Exec(ctx, query, append(args, whereArgs...)...); err != nil {
		a.logger.Error("update failed", "table", table, "query", query, "error", err)
		return "update", err
	}
	return "update", nil
}

// isServerTimestamp reports whether name addresses a column the store
// maintains itself, in any casing.
func isServerTimestamp(name string) bool {
	for _, n := range []string{strings.ToLower(name), names.Stored(name)} {
		if n == schema.CreatedAt || n == schema.LastModifiedAt {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
