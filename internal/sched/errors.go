package sched

import "errors"

var (
	ErrTableFull     = errors.New("task table full")
	ErrNotFound      = errors.New("no task with that pid")
	ErrInvalidConfig = errors.New("invalid scheduler config")
	ErrNilTask       = errors.New("nil task callback")
)
