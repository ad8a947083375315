// Package permissions evaluates capability policies before any statement is
// issued. Every function here is pure.
package permissions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/melkeydev/dbplus/names"
)

type Operation uint8

const (
	Read Operation = 1 << iota
	Write
	Delete
)

func (o Operation) String() string {
	switch o {
	case Read:
		return "Read"
	case Write:
		return "Write"
	case Delete:
		return "Delete"
	}
	return fmt.Sprintf("Operation(%d)", uint8(o))
}

func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	case "delete":
		return Delete, nil
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// Set is a set of operations. The zero Set allows nothing.
type Set uint8

func NewSet(ops ...Operation) Set {
	var s Set
	for _, op := range ops {
		s |= Set(op)
	}
	return s
}

func ParseSet(ops ...string) (Set, error) {
	var s Set
	for _, name := range ops {
		op, err := ParseOperation(name)
		if err != nil {
			return 0, err
		}
		s |= Set(op)
	}
	return s, nil
}

func (s Set) Has(op Operation) bool {
	return s&Set(op) != 0
}

// TablePolicy overrides the default operations for one table.
type TablePolicy struct {
	Operations      Set
	ProtectedFields []string
}

type Policy struct {
	Default Set
	Tables  map[string]TablePolicy
	// Qualifiers are merged into every predicate and write.
	Qualifiers map[string]any
}

var ErrPermissionDenied = errors.New("permission denied")

type DeniedError struct {
	Operation Operation
	Table     string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s on %s", e.Operation, e.Table)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// Resolve returns the operations and protected fields governing table. A table
// override fully replaces the default; the default protects nothing.
func Resolve(p Policy, table string) (Set, map[string]bool) {
	stored := names.Stored(table)
	for name, tp := range p.Tables {
		if names.Stored(name) != stored {
			continue
		}
		protected := make(map[string]bool, len(tp.ProtectedFields))
		for _, f := range tp.ProtectedFields {
			protected[names.Stored(f)] = true
		}
		return tp.Operations, protected
	}
	return p.Default, nil
}

// Check guards identity operations such as writes and deletes: it denies when
// op is not allowed or any field is protected.
func Check(p Policy, op Operation, table string, fields []string) error {
	ops, protected := Resolve(p, table)
	if !ops.Has(op) {
		return deny(op, table)
	}
	for _, f := range fields {
		if protected[names.Stored(f)] {
			return deny(op, table)
		}
	}
	return nil
}

// Select guards field selections: protected fields are dropped from the
// result, and the call is denied only when that leaves nothing to select.
func Select(p Policy, op Operation, table string, fields []string) ([]string, error) {
	ops, protected := Resolve(p, table)
	if !ops.Has(op) {
		return nil, deny(op, table)
	}

	allowed := make([]string, 0, len(fields))
	for _, f := range fields {
		if !protected[names.Stored(f)] {
			allowed = append(allowed, f)
		}
	}
	if len(fields) > 0 && len(allowed) == 0 {
		return nil, deny(op, table)
	}
	return allowed, nil
}

func deny(op Operation, table string) error {
	return &DeniedError{Operation: op, Table: names.Stored(table)}
}
