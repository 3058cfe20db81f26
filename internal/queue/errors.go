package queue

import "errors"

var (
	// ErrNotFound is returned when a record, job mapping or dead-letter entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a record changed since it was read.
	ErrConflict = errors.New("record modified concurrently")
	// ErrInvalidTransition is returned when a write would break the status graph.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCapacityExceeded is returned when a brand reached its daily admission cap.
	ErrCapacityExceeded = errors.New("daily capacity exceeded")
	// ErrJobClaimed is returned when an external job id already belongs to another record.
	ErrJobClaimed = errors.New("external job id already claimed")
)
