package util

import "github.com/oklog/ulid/v2"

// NewID returns a ULID string. IDs sort lexically in creation order, which
// keeps (created_at, id) message ordering stable within one millisecond.
func NewID() string {
	return ulid.Make().String()
}
