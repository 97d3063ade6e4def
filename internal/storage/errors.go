package storage

import "errors"

// Storage errors shared by every store implementation. Trades, equity
// points, and candles are immutable once written, so a key collision is
// always a caller bug, never an update.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key
	// (trade_id, or strategy_id+date, or instrument+date) already exists.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
