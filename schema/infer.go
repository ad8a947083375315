package schema

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/melkeydev/dbplus/types"
	"github.com/melkeydev/dbplus/value"
)

// String length thresholds between the text families.
const (
	maxVarchar    = 5000
	maxText       = 65535
	maxMediumText = 16777215
)

// Integer ranges. These are one short of the canonical signed bounds and must
// stay that way: stored columns were sized against them.
const (
	maxSmallInt  = 32767
	maxMediumInt = 8388607
	maxInt       = 2147483647
)

const (
	maxDecimalScale     = 30
	maxDecimalPrecision = 65
)

// widenOrder ranks the column families a column may move up through.
var widenOrder = []types.DataType{
	types.SmallInt, types.MediumInt, types.Int, types.BigInt,
	types.Varchar, types.Text, types.MediumText, types.LongText,
}

// Classify returns the smallest column definition able to hold v. existing is
// the current column of the same name, if any. The Definition field is left
// for the store dialect to render.
func Classify(name string, v value.Value, existing *types.ColumnDefinition) types.ColumnDefinition {
	col := types.ColumnDefinition{Name: name}

	switch x := v.(type) {
	case value.Timestamp:
		col.DataType = types.Timestamp
	case value.Bool:
		col.DataType = types.Boolean
	case value.String:
		classifyString(&col, string(x))
	case value.Nested:
		classifyString(&col, x.JSON())
	case value.Int:
		if existing != nil && existing.DataType == types.Boolean && (x == 0 || x == 1) {
			col.DataType = types.Boolean
			break
		}
		col.DataType = integerType(int64(x))
	case value.Float:
		f := float64(x)
		if existing != nil && existing.DataType == types.Boolean && (f == 0 || f == 1) {
			col.DataType = types.Boolean
			break
		}
		if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			col.DataType = integerType(int64(f))
			break
		}
		classifyDecimal(&col, f)
		if existing != nil && existing.DataType == types.Decimal {
			mergeDecimal(&col, *existing)
		}
	default:
		// Null carries no shape; keep whatever the column already is. A new
		// column is sized for the literal "null".
		if existing != nil {
			return *existing
		}
		classifyString(&col, "null")
	}

	return col
}

func classifyString(col *types.ColumnDefinition, s string) {
	n := utf8.RuneCountInString(s)
	switch {
	case n < maxVarchar:
		col.DataType, col.Length1 = types.Varchar, n
	case n < maxText:
		col.DataType, col.Length1 = types.Text, types.TextLength
	case n < maxMediumText:
		col.DataType, col.Length1 = types.MediumText, types.MediumTextLength
	default:
		col.DataType = types.LongText
	}
}

func integerType(n int64) types.DataType {
	switch {
	case n >= -maxSmallInt && n <= maxSmallInt:
		return types.SmallInt
	case n >= -maxMediumInt && n <= maxMediumInt:
		return types.MediumInt
	case n >= -maxInt && n <= maxInt:
		return types.Int
	}
	return types.BigInt
}

func classifyDecimal(col *types.ColumnDefinition, f float64) {
	s := strconv.FormatFloat(math.Abs(f), 'f', -1, 64)
	whole, frac, _ := strings.Cut(s, ".")

	scale := min(len(frac), maxDecimalScale)
	precision := min(max(len(whole)+len(frac), scale), maxDecimalPrecision)

	col.DataType = types.Decimal
	col.Length1, col.Length2 = precision, min(scale, precision)
}

// mergeDecimal keeps the integer digits and the scale of the existing column
// so a wider value never loses room on either side of the point.
func mergeDecimal(col *types.ColumnDefinition, existing types.ColumnDefinition) {
	scale := max(col.Length2, existing.Length2)
	whole := max(col.Length1-col.Length2, existing.Length1-existing.Length2)
	col.Length1 = min(whole+scale, maxDecimalPrecision)
	col.Length2 = min(scale, col.Length1)
}

// ShouldWiden reports whether old must be altered to hold next. It never
// retypes between numeric and non-numeric families and never moves a column
// down the widening order, even if the value will then not fit.
func ShouldWiden(old, next types.ColumnDefinition) bool {
	if old.DataType == types.Boolean || old.DataType == types.Key {
		return false
	}

	grows := next.Length1 > old.Length1 ||
		next.Length2 > old.Length2 ||
		!strings.EqualFold(string(old.DataType), string(next.DataType))
	if !grows {
		return false
	}

	if old.DataType.IsNumeric() != next.DataType.IsNumeric() {
		return false
	}
	if old.DataType == types.Decimal && next.DataType != types.Decimal {
		return false
	}

	return rank(old.DataType) <= rank(next.DataType)
}

func rank(d types.DataType) int {
	for i, t := range widenOrder {
		if strings.EqualFold(string(t), string(d)) {
			return i
		}
	}
	return -1
}
