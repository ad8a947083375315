package access

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/melkeydev/dbplus/names"
	"github.com/melkeydev/dbplus/types"
	"github.com/melkeydev/dbplus/value"
	"github.com/spf13/cast"
)

// column is one record field addressed by its stored identifier.
type column struct {
	name string
	val  value.Value
}

// storedColumns maps rec onto stored identifiers. A later field wins over an
// earlier one with the same stored name; order of first appearance is kept.
func storedColumns(rec types.Record) []column {
	var cols []column
	index := make(map[string]int, len(rec))
	for _, f := range rec {
		name := names.Stored(f.Name)
		if name == "" {
			continue
		}
		if i, ok := index[name]; ok {
			cols[i].val = f.Value
			continue
		}
		index[name] = len(cols)
		cols = append(cols, column{name: name, val: f.Value})
	}
	return cols
}

// setStored replaces every field of rec whose stored name matches name.
func setStored(rec *types.Record, name string, v any) {
	stored := names.Stored(name)
	rec.DeleteFunc(func(n string) bool { return names.Stored(n) == stored })
	rec.Set(name, v)
}

func lookupStored(rec types.Record, name string) (value.Value, bool) {
	for _, f := range rec {
		if names.Stored(f.Name) == name {
			return f.Value, true
		}
	}
	return nil, false
}

// bindValue converts v into a driver argument for a column of type col.
func bindValue(v value.Value, col *types.ColumnDefinition) any {
	switch x := v.(type) {
	case value.Bool:
		return bool(x)
	case value.Int:
		if isBoolean(col) && (x == 0 || x == 1) {
			return x == 1
		}
		return int64(x)
	case value.Float:
		if isBoolean(col) && (x == 0 || x == 1) {
			return x == 1
		}
		return float64(x)
	case value.String:
		return string(x)
	case value.Timestamp:
		return x.Time
	case value.Nested:
		return x.JSON()
	}
	return nil
}

func isBoolean(col *types.ColumnDefinition) bool {
	return col != nil && col.DataType == types.Boolean
}

func columnOf(def *types.TableDefinition, name string) *types.ColumnDefinition {
	if c, ok := def.Column(name); ok {
		return &c
	}
	return nil
}

// mergeWhere keys where by stored identifier and lays qualifiers over it.
func mergeWhere(where, qualifiers map[string]any) map[string]any {
	out := make(map[string]any, len(where)+len(qualifiers))
	for k, v := range where {
		out[names.Stored(k)] = v
	}
	for k, v := range qualifiers {
		out[names.Stored(k)] = v
	}
	return out
}

// predicate renders where as a WHERE clause. Slices become IN lists, which the
// pool expands; an empty slice matches nothing.
func (a *Access) predicate(def *types.TableDefinition, where map[string]any) (string, []any) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []string
	var args []any
	for _, k := range keys {
		quoted := a.conn.Quote(k)
		col := columnOf(def, k)

		if list, ok := asList(where[k]); ok {
			if len(list) == 0 {
				conds = append(conds, "1 = 0")
				continue
			}
			bound := make([]any, len(list))
			for i, item := range list {
				bound[i] = bindValue(value.Of(item), col)
			}
			conds = append(conds, quoted+" IN (?)")
			args = append(args, bound)
			continue
		}

		v := value.Of(where[k])
		if value.IsNull(v) {
			conds = append(conds, quoted+" IS NULL")
			continue
		}
		conds = append(conds, quoted+" = ?")
		args = append(args, bindValue(v, col))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if _, ok := v.([]byte); ok {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// coerce converts a scanned value to the Go type matching col.
func coerce(raw any, col *types.ColumnDefinition) value.Value {
	if raw == nil {
		return value.Null{}
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	if col == nil {
		return value.Of(raw)
	}

	var (
		out any
		err error
	)
	switch {
	case col.DataType == types.Boolean:
		out, err = cast.ToBoolE(raw)
	case col.DataType == types.Timestamp:
		if t, ok := raw.(time.Time); ok {
			return value.Timestamp{Time: t}
		}
		out, err = cast.ToTimeE(raw)
	case col.DataType == types.Decimal:
		out, err = cast.ToFloat64E(raw)
	case col.DataType.IsInteger():
		out, err = cast.ToInt64E(raw)
	default:
		out, err = cast.ToStringE(raw)
	}
	if err != nil {
		return value.Of(raw)
	}
	return value.Of(out)
}
