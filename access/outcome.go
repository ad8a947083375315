package access

import "fmt"

type Status int

const (
	StatusOK Status = iota
	// StatusDenied means the policy refused the call; no statement was issued.
	StatusDenied
	// StatusMigrationPartial means the data statement succeeded but some schema
	// statements failed.
	StatusMigrationPartial
	StatusStoreError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDenied:
		return "denied"
	case StatusMigrationPartial:
		return "migration partial"
	case StatusStoreError:
		return "store error"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Outcome is the typed result of a Try* call. Err is nil only for StatusOK.
type Outcome struct {
	Status Status
	Err    error
}

func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// StoreError is a failed data statement.
type StoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func ok() Outcome {
	return Outcome{Status: StatusOK}
}

func denied(err error) Outcome {
	return Outcome{Status: StatusDenied, Err: err}
}

func storeFailure(op, table string, err error) Outcome {
	return Outcome{Status: StatusStoreError, Err: &StoreError{Op: op, Table: table, Err: err}}
}

// softError converts an outcome to the error returned by the fail-soft
// wrappers: only denials reach the caller.
func softError(o Outcome) error {
	if o.Status == StatusDenied {
		return o.Err
	}
	return nil
}
