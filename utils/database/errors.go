package database

import (
	"errors"
	"fmt"
)

// Kind classifies a storage failure by the operation that was attempted.
type Kind int

const (
	KindInsert Kind = iota + 1
	KindSelect
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindSelect:
		return "select"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Error wraps a driver error with the table and operation it came from.
type Error struct {
	Kind  Kind
	Table string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Table, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a storage error of the given kind.
func IsKind(err error, kind Kind) bool {
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return dbErr.Kind == kind
	}
	return false
}

func wrap(kind Kind, table string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Table: table, Err: err}
}
