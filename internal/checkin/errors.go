package checkin

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyStarted is returned when a started check-in is offered a
	// different conversation, or when a started check-in is dismissed.
	ErrAlreadyStarted   = errors.New("check-in already started")
	ErrAlreadyTerminal  = errors.New("check-in already completed or skipped")
	ErrNotInProgress    = errors.New("check-in not in progress")
	ErrCheckInNotActive = errors.New("check-in not active")
	ErrNotBound         = errors.New("conversation not bound to check-in")
	ErrInvalidPayload   = errors.New("invalid payload")
)
