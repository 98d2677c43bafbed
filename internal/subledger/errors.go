package subledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input shape or bounds.
	ErrValidation = errors.New("subledger: validation failed")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("subledger: not found")
	// ErrDuplicate marks a uniqueness violation on a business key.
	ErrDuplicate = errors.New("subledger: duplicate")
	// ErrUnbalancedVoucher marks a voucher whose debits and credits differ.
	ErrUnbalancedVoucher = errors.New("subledger: unbalanced voucher")
	// ErrMissingLedgerConfig marks a bill head without a ledger it needs.
	ErrMissingLedgerConfig = errors.New("subledger: missing ledger configuration")
	// ErrSelfApproval marks a checker trying to approve their own entry.
	ErrSelfApproval = errors.New("subledger: maker cannot approve own payment")
	// ErrInvalidStateTransition marks a workflow move the current state forbids.
	ErrInvalidStateTransition = errors.New("subledger: invalid state transition")
	// ErrInUse marks an entity that cannot be removed while referenced.
	ErrInUse = errors.New("subledger: in use")
	// ErrSequenceCollision marks a document number taken by a concurrent writer.
	ErrSequenceCollision = errors.New("subledger: sequence collision")
	// ErrTransactionAborted marks an infrastructure rollback; the whole operation may be retried.
	ErrTransactionAborted = errors.New("subledger: transaction aborted")
)

// Not-found errors per entity. Each matches ErrNotFound under errors.Is.
var (
	ErrLedgerNotFound   error = notFoundError{entity: "ledger"}
	ErrBillHeadNotFound error = notFoundError{entity: "bill head"}
	ErrBillNotFound     error = notFoundError{entity: "bill"}
	ErrVoucherNotFound  error = notFoundError{entity: "voucher"}
	ErrPaymentNotFound  error = notFoundError{entity: "payment"}
	ErrScheduleNotFound error = notFoundError{entity: "bill schedule"}
)

type notFoundError struct {
	entity string
}

func (e notFoundError) Error() string {
	return "subledger: " + e.entity + " not found"
}

func (e notFoundError) Unwrap() error {
	return ErrNotFound
}

// ValidationError describes a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "subledger: validation failed: " + e.Message
	}
	return "subledger: validation failed: " + e.Field + ": " + e.Message
}

// Unwrap exposes ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
