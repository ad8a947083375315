// Package value defines the closed set of shapes a record field may hold.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Value is a sealed interface over the value shapes a Record field may hold.
// Only Null, String, Int, Float, Bool, Timestamp and Nested implement it.
// Int and Float are the two shapes of a number.
type Value interface {
	value()
}

type Null struct{}

func (Null) value() {}

type String string

func (String) value() {}

type Int int64

func (Int) value() {}

type Float float64

func (Float) value() {}

type Bool bool

func (Bool) value() {}

type Timestamp struct {
	time.Time
}

func (Timestamp) value() {}

// Nested holds an object or array; it is stored as its JSON text.
type Nested struct {
	V any
}

func (Nested) value() {}

// JSON returns the serialized form written to the store.
func (n Nested) JSON() string {
	b, err := json.Marshal(n.V)
	if err != nil {
		return fmt.Sprint(n.V)
	}
	return string(b)
}

// Of wraps a native Go value in the matching Value shape.
func Of(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case string:
		return String(x)
	case []byte:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Int(x)
	case int8:
		return Int(x)
	case int16:
		return Int(x)
	case int32:
		return Int(x)
	case int64:
		return Int(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return Float(x)
		}
		return Int(x)
	case uint8:
		return Int(x)
	case uint16:
		return Int(x)
	case uint32:
		return Int(x)
	case uint64:
		if x > math.MaxInt64 {
			return Float(x)
		}
		return Int(x)
	case float32:
		return Float(x)
	case float64:
		return Float(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i)
		}
		if f, err := x.Float64(); err == nil {
			return Float(f)
		}
		return String(x)
	case time.Time:
		return Timestamp{x}
	case *time.Time:
		if x == nil {
			return Null{}
		}
		return Timestamp{*x}
	default:
		return Nested{V: v}
	}
}

// Native unwraps a Value into a plain Go value. Nested values come back as
// the value they wrap.
func Native(v Value) any {
	switch x := v.(type) {
	case String:
		return string(x)
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case Bool:
		return bool(x)
	case Timestamp:
		return x.Time
	case Nested:
		return x.V
	}
	return nil
}

// IsNull reports whether v carries no value.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}
