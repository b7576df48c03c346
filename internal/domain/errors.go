package domain

import "errors"

var (
	ErrNotFound      = errors.New("resource not found")
	ErrNoHandler     = errors.New("no handler registered for job type")
	ErrTerminalState = errors.New("job is in a terminal state")
)
