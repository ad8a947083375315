package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/melkeydev/dbplus/names"
	"github.com/melkeydev/dbplus/permissions"
	"github.com/melkeydev/dbplus/types"
)

type ReadOptions struct {
	// Select lists the fields to return. Empty selects every column.
	Select []string
	// Where matches each field against a value, or any of a slice of values.
	Where map[string]any
	// ID restricts the read to one record.
	ID        string
	FirstOnly bool
}

// TryRead returns the matching records with external field names. A missing
// table or an empty result yields no records and StatusOK.
func (a *Access) TryRead(ctx context.Context, policy permissions.Policy, table string, opts ReadOptions) ([]types.Record, Outcome) {
	if err := permissions.Check(policy, permissions.Read, table, nil); err != nil {
		return nil, denied(err)
	}

	stored := names.Stored(table)
	def, err := a.catalog.Definition(ctx, stored)
	if err != nil {
		a.logger.Error("read failed", "table", stored, "error", err)
		return nil, storeFailure("read", stored, err)
	}

	var cols []string
	if len(opts.Select) > 0 {
		for _, f := range opts.Select {
			cols = appendUnique(cols, names.Stored(f))
		}
		if opts.ID != "" {
			cols = appendUnique(cols, "id")
		}
	} else {
		cols = def.Fields()
	}

	cols, err = permissions.Select(policy, permissions.Read, stored, cols)
	if err != nil {
		return nil, denied(err)
	}
	if def == nil || len(cols) == 0 {
		return nil, ok()
	}

	where := opts.Where
	if opts.ID != "" {
		where = make(map[string]any, len(opts.Where)+1)
		for k, v := range opts.Where {
			where[k] = v
		}
		where["id"] = opts.ID
	}
	clause, args := a.predicate(def, mergeWhere(where, policy.Qualifiers))

	selects := make([]string, len(cols))
	for i, c := range cols {
		selects[i] = a.conn.Quote(c)
		if ext := names.External(c); ext != c {
			selects[i] += " AS " + a.conn.Quote(ext)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(selects, ", "), a.conn.Table(a.database, stored), clause)
	if opts.FirstOnly || opts.ID != "" {
		query += " LIMIT 1"
	}

	rows, err := a.conn.Query(ctx, query, args...)
	if err != nil {
		a.logger.Error("read failed", "table", stored, "query", query, "error", err)
		return nil, storeFailure("read", stored, err)
	}
	if len(rows) == 0 {
		return nil, ok()
	}

	out := make([]types.Record, 0, len(rows))
	for _, row := range rows {
		rec := make(types.Record, 0, len(cols))
		for _, c := range cols {
			ext := names.External(c)
			rec = append(rec, types.Field{Name: ext, Value: coerce(row[ext], columnOf(def, c))})
		}
		out = append(out, rec)
	}
	return out, ok()
}

// Read is TryRead that only reports permission denials; store failures read
// as no records.
func (a *Access) Read(ctx context.Context, policy permissions.Policy, table string, opts ReadOptions) ([]types.Record, error) {
	recs, o := a.TryRead(ctx, policy, table, opts)
	return recs, softError(o)
}

// ReadFirst returns the first matching record, or nil.
func (a *Access) ReadFirst(ctx context.Context, policy permissions.Policy, table string, opts ReadOptions) (types.Record, error) {
	opts.FirstOnly = true
	recs, err := a.Read(ctx, policy, table, opts)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
