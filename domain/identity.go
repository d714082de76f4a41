package domain

import "github.com/google/uuid"

// NewUID issues a connection identifier, unique for the process lifetime.
// Called exactly once per accepted connection, before any routing.
func NewUID() string {
	return uuid.NewString()
}
