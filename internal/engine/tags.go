package engine

import (
	"strings"

	"github.com/google/uuid"

	"github.com/rcc-trading/condorhawk/internal/lifecycle"
)

// UUIDTags returns a tag generator backed by random UUIDs. The order tag
// carries the upper-cased strategy name plus the id's short prefix, so
// broker fills route back to a unique working order while staying readable
// in logs.
func UUIDTags() lifecycle.TagGenerator {
	return func(strategy string) (id, tag string) {
		id = uuid.New().String()
		return id, strings.ToUpper(strategy) + "-" + shortID(id)
	}
}

// shortID returns a truncated ID string, safely handling IDs shorter than 8 characters
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
