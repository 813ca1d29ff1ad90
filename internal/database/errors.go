package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// Business errors surfaced by the store layer. Handlers map these to
// response codes; anything else is treated as an internal failure.
var (
	ErrProductNotFound    = errors.New("product not found")
	ErrConsultantNotFound = errors.New("consultant not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrCartItemNotFound   = errors.New("cart item not found")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrSlotTaken          = errors.New("consultation slot is already booked")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrValidation         = errors.New("validation failed")
	ErrForbidden          = errors.New("operation requires admin role")
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, optionally on a specific constraint name. Conflicts such as a
// booked slot or a replayed idempotency key arrive here.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsForeignKeyViolation reports whether err is a Postgres foreign-key
// violation (e.g. adding a cart line for a product that no longer exists).
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
