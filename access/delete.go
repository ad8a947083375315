package access

import (
	"context"
	"fmt"

	"github.com/melkeydev/dbplus/events"
	"github.com/melkeydev/dbplus/names"
	"github.com/melkeydev/dbplus/permissions"
	"github.com/spf13/cast"
)

// TryDeleteWhere removes the records matching where and returns their ids.
// Matching ids are selected first so the Deleted event can carry them. An
// empty predicate deletes nothing.
func (a *Access) TryDeleteWhere(ctx context.Context, policy permissions.Policy, table string, where map[string]any) ([]string, Outcome) {
	if err := permissions.Check(policy, permissions.Delete, table, nil); err != nil {
		return nil, denied(err)
	}

	stored := names.Stored(table)
	merged := mergeWhere(where, policy.Qualifiers)
	if len(merged) == 0 {
		return nil, ok()
	}

	def, err := a.catalog.Definition(ctx, stored)
	if err != nil {
		a.logger.Error("delete failed", "table", stored, "error", err)
		return nil, storeFailure("delete", stored, err)
	}
	if def == nil {
		return nil, ok()
	}

	clause, args := a.predicate(def, merged)
	query := fmt.Sprintf("SELECT %s FROM %s%s", a.conn.Quote("id"), a.conn.Table(a.database, stored), clause)
	rows, err := a.conn.Query(ctx, query, args...)
	if err != nil {
		a.logger.Error("delete failed", "table", stored, "query", query, "error", err)
		return nil, storeFailure("select", stored, err)
	}
	if len(rows) == 0 {
		return nil, ok()
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		raw := row["id"]
		if b, isBytes := raw.([]byte); isBytes {
			raw = string(b)
		}
		ids[i] = cast.ToString(raw)
	}

	query = fmt.Sprintf("DELETE FROM %s WHERE %s IN (?)", a.conn.Table(a.database, stored), a.conn.Quote("id"))
	if _, err := a.conn.Exec(ctx, query, ids); err != nil {
		a.logger.Error("delete failed", "table", stored, "query", query, "error", err)
		return nil, storeFailure("delete", stored, err)
	}

	a.bus.Publish(ctx, events.Event{
		Type:     events.Deleted,
		Table:    names.External(table),
		Database: a.database,
		Payload:  ids,
	})
	return ids, ok()
}

// DeleteWhere is TryDeleteWhere that only reports permission denials.
func (a *Access) DeleteWhere(ctx context.Context, policy permissions.Policy, table string, where map[string]any) error {
	_, o := a.TryDeleteWhere(ctx, policy, table, where)
	return softError(o)
}

// TryDelete removes the records with the given ids.
func (a *Access) TryDelete(ctx context.Context, policy permissions.Policy, table string, ids ...string) ([]string, Outcome) {
	if err := permissions.Check(policy, permissions.Delete, table, nil); err != nil {
		return nil, denied(err)
	}
	if len(ids) == 0 {
		return nil, ok()
	}
	return a.TryDeleteWhere(ctx, policy, table, map[string]any{"id": ids})
}

func (a *Access) Delete(ctx context.Context, policy permissions.Policy, table string, ids ...string) error {
	_, o := a.TryDelete(ctx, policy, table, ids...)
	return softError(o)
}
