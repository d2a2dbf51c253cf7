package blockriver

import (
	"errors"

	"github.com/alexhholmes/blockriver/internal/base"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrKeyTooLarge    = errors.New("key too large")
	ErrValueTooLarge  = errors.New("value too large")
	ErrOrderViolation = errors.New("modified entry breaks leaf order")
	ErrClosed         = errors.New("index is closed")
	ErrInvalidOptions = errors.New("invalid options")

	ErrDuplicateEntry   = base.ErrDuplicateEntry
	ErrEntryNotFound    = base.ErrEntryNotFound
	ErrIndexOutOfBounds = base.ErrIndexOutOfBounds
	ErrCorruption       = base.ErrCorruption
)
