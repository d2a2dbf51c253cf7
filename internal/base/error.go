package base

import "errors"

var (
	ErrDuplicateEntry   = errors.New("duplicate key-value pair")
	ErrEntryNotFound    = errors.New("key-value pair not found")
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	ErrCorruption       = errors.New("data corruption detected")
)
