package queue

import "errors"

var (
	// ErrNotFound is returned when an identifier has no events.
	ErrNotFound = errors.New("queue item not found")
	// ErrInvalidTransition is returned when an event is not legal for the item's current status.
	ErrInvalidTransition = errors.New("invalid queue transition")
	// ErrInvalidItem is returned when enqueue input is malformed.
	ErrInvalidItem = errors.New("invalid queue item")
)
