package storage

import "errors"

// ErrPositionNotFound is returned when the book has no position with the
// requested ID.
var ErrPositionNotFound = errors.New("position not found")

// ErrInvalidPosition is returned for nil positions or positions without an ID.
var ErrInvalidPosition = errors.New("invalid position")
