package model

import "fmt"

// WritePolicy decides how a mutating operation orders its local and
// remote effects.
type WritePolicy string

const (
	// RemoteFirst waits for the server to confirm before touching the
	// local cache. A remote failure leaves the cache unchanged.
	RemoteFirst WritePolicy = "remote-first"

	// Optimistic applies the change locally, then calls the server and
	// rolls the local change back if the call fails.
	Optimistic WritePolicy = "optimistic"
)

// ParseWritePolicy converts a config string into a WritePolicy.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch WritePolicy(s) {
	case RemoteFirst, Optimistic:
		return WritePolicy(s), nil
	case "":
		return RemoteFirst, nil
	default:
		return "", fmt.Errorf("unknown write policy %q", s)
	}
}

// Operation names a mutating store operation with a configurable policy.
type Operation string

const (
	OpMarkRead     Operation = "mark_read"
	OpMarkAllRead  Operation = "mark_all_read"
	OpDelete       Operation = "delete"
	OpClearAll     Operation = "clear_all"
	OpCreateTicket Operation = "create_ticket"
)

// Policies maps each operation to its write policy.
type Policies map[Operation]WritePolicy

// DefaultPolicies mirrors the behavior users are used to: notification
// writes wait for the server, ticket creation shows up immediately.
func DefaultPolicies() Policies {
	return Policies{
		OpMarkRead:     RemoteFirst,
		OpMarkAllRead:  RemoteFirst,
		OpDelete:       RemoteFirst,
		OpClearAll:     RemoteFirst,
		OpCreateTicket: Optimistic,
	}
}

// For returns the policy for op, defaulting to RemoteFirst.
func (p Policies) For(op Operation) WritePolicy {
	if pol, ok := p[op]; ok && pol != "" {
		return pol
	}
	return RemoteFirst
}
