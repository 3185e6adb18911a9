package xid

import "github.com/google/uuid"

// New returns a random id. An empty prefix yields a bare UUID.
func New(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
