package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
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

var (
	ErrNotConnected        = errors.New("square account not connected")
	ErrItemNotFound        = errors.New("inventory item not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrCheckoutNotFound    = errors.New("checkout not found")
	ErrStaleCheckoutStatus = errors.New("stale checkout status update")
	ErrEmptyOrder          = errors.New("cannot checkout an empty order")
	ErrInvalidTotal        = errors.New("order total must be greater than zero")
	ErrDeviceRequired      = errors.New("device id is required")
)
