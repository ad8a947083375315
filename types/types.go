package types

import (
	"strconv"
	"strings"
)

// DataType is the column type family the schema engine reasons about.
type DataType string

const (
	Boolean    DataType = "boolean"
	SmallInt   DataType = "smallint"
	MediumInt  DataType = "mediumint"
	Int        DataType = "int"
	BigInt     DataType = "bigint"
	Decimal    DataType = "decimal"
	Varchar    DataType = "varchar"
	Text       DataType = "text"
	MediumText DataType = "mediumtext"
	LongText   DataType = "longtext"
	Timestamp  DataType = "timestamp"
	// Key marks an index or constraint entry found during introspection.
	Key DataType = "key"
)

// Declared lengths of the text families.
const (
	TextLength       = 65535
	MediumTextLength = 16777215
)

func (d DataType) IsNumeric() bool {
	switch d {
	case SmallInt, MediumInt, Int, BigInt, Decimal:
		return true
	}
	return false
}

func (d DataType) IsInteger() bool {
	return d.IsNumeric() && d != Decimal
}

type ColumnDefinition struct {
	Name     string   `json:"name"`
	DataType DataType `json:"dataType"`
	Length1  int      `json:"length1,omitempty"`
	Length2  int      `json:"length2,omitempty"`
	// Definition is the column type as rendered for the store.
	Definition string `json:"definition,omitempty"`
}

type TableDefinition struct {
	Name    string             `json:"name"`
	Columns []ColumnDefinition `json:"columns"`
}

// Column looks a column up by name, ignoring case.
func (t *TableDefinition) Column(name string) (ColumnDefinition, bool) {
	if t == nil {
		return ColumnDefinition{}, false
	}
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}

// Fields returns the names of every non-key column in table order.
func (t *TableDefinition) Fields() []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, c := range t.Columns {
		if c.DataType != Key {
			out = append(out, c.Name)
		}
	}
	return out
}

func (t *TableDefinition) Clone() *TableDefinition {
	if t == nil {
		return nil
	}
	cols := make([]ColumnDefinition, len(t.Columns))
	copy(cols, t.Columns)
	return &TableDefinition{Name: t.Name, Columns: cols}
}

type KeyKind string

const (
	Unique KeyKind = "unique"
	Index  KeyKind = "index"
)

// SchemaKey is a configured unique constraint or index applied when a table is
// first created.
type SchemaKey struct {
	Fields []string `yaml:"fields" json:"fields"`
	Kind   KeyKind  `yaml:"kind" json:"kind"`
}

// ParseColumnType turns a store column type such as "varchar(3)",
// "decimal(5,2)" or "tinyint(1)" into a ColumnDefinition.
func ParseColumnType(name, raw string) ColumnDefinition {
	col := ColumnDefinition{Name: name, Definition: raw}

	s := strings.ToLower(strings.TrimSpace(raw))
	base := s
	if i := strings.IndexAny(base, "( "); i >= 0 {
		base = base[:i]
	}

	if open := strings.IndexByte(s, '('); open >= 0 {
		if end := strings.IndexByte(s[open:], ')'); end > 0 {
			parts := strings.Split(s[open+1:open+end], ",")
			col.Length1, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
			if len(parts) > 1 {
				col.Length2, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
			}
		}
	}

	switch base {
	case "tinyint", "bool", "boolean":
		col.DataType = Boolean
	case "smallint":
		col.DataType = SmallInt
	case "mediumint":
		col.DataType = MediumInt
	case "int", "integer":
		col.DataType = Int
	case "bigint":
		col.DataType = BigInt
	case "decimal", "numeric", "float", "double", "real":
		col.DataType = Decimal
	case "varchar", "char":
		col.DataType = Varchar
	case "text":
		col.DataType = Text
		col.Length1 = TextLength
	case "mediumtext":
		col.DataType = MediumText
		col.Length1 = MediumTextLength
	case "longtext":
		col.DataType = LongText
		col.Length1 = 0
	case "timestamp", "datetime", "date":
		col.DataType = Timestamp
	default:
		col.DataType = DataType(base)
	}

	// Display widths on integer and boolean types carry no range information.
	if col.DataType == Boolean || col.DataType.IsInteger() || col.DataType == Timestamp {
		col.Length1, col.Length2 = 0, 0
	}
	return col
}
