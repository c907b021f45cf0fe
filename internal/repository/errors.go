package repository

import (
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
)

// Storage errors shared by the PostgreSQL and in-memory implementations.
var (
	ErrDuplicateEnrollment = errors.New("open enrollment already exists for student and course")
	ErrDuplicateCartEntry  = errors.New("course already staged in cart")
	ErrCartFull            = errors.New("cart holds the maximum number of courses")
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// IsTransient reports storage failures worth retrying: serialization and deadlock
// aborts, lock timeouts and broken connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
			return true
		}
		return pqErr.Code.Class() == "08"
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
