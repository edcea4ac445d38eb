package model

import "errors"

var (
	// ErrNotValid is returned when a spec or configuration fails validation.
	ErrNotValid = errors.New("not valid")
	// ErrNotFound is returned when a VM is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrResourceExhausted is returned when a bounded resource pool is empty.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrConflict is returned when a resource name or identifier collides
	// with one already present on the host.
	ErrConflict = errors.New("conflict")
	// ErrAdapter is returned when the hypervisor adapter fails.
	ErrAdapter = errors.New("adapter error")
	// ErrTimeout is returned when a bounded operation exceeds its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrDegradedCleanup is returned when a compensating action failed and
	// the host may hold resources that need manual intervention.
	ErrDegradedCleanup = errors.New("degraded cleanup")
)
