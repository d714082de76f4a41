// Package domain contains core concepts of the relay.
// This file defines session lifecycle states and delivery outcomes.
package domain

// SessionState is the two-step lifecycle of a connection. Pending sessions
// are invisible to the registry; only a valid join promotes them.
type SessionState int32

const (
	Pending SessionState = iota
	Joined
	Terminated
)

func (s SessionState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Joined:
		return "joined"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// DeliveryResult records the outcome of one targeted delivery. No result
// reaches the sender over the wire; it exists for observability and tests.
type DeliveryResult int

const (
	Delivered DeliveryResult = iota
	TargetNotFound
	WriteFailed
)

func (r DeliveryResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case TargetNotFound:
		return "target_not_found"
	case WriteFailed:
		return "write_failed"
	default:
		return "unknown"
	}
}
