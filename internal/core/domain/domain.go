package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionState tracks where a connection sits in its lifecycle. Every
// socket starts Pending and must register before it can receive
// user-addressed events.
type SessionState int32

const (
	StatePending SessionState = iota
	StateRegistered
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RFC 6455 close codes used when the server tears a session down.
const (
	CloseGoingAway         = 1001
	ClosePolicyViolation   = 1008
	CloseInternalServerErr = 1011
)

// Event kinds as they appear in the outbound "type" field.
const (
	EventNewScreenCall = "new_screen_call"
	EventProblemDone   = "problem_done"
	EventJobUpdate     = "job_update"
)

// Delivery is the audit record written after an event has been fanned
// out. Recipients counts the sessions that accepted the payload; zero
// means the routing key had no live subscriber at delivery time.
type Delivery struct {
	ID         uuid.UUID
	Kind       string
	RoutingKey string
	Recipients int
	Payload    []byte
	CreatedAt  time.Time
}

func NewDelivery(kind, routingKey string, recipients int, payload []byte) *Delivery {
	return &Delivery{
		ID:         uuid.New(),
		Kind:       kind,
		RoutingKey: routingKey,
		Recipients: recipients,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

// RegistryStats is a point-in-time snapshot of registry occupancy.
type RegistryStats struct {
	Sessions         int `json:"sessions"`
	Users            int `json:"users"`
	JobSubscriptions int `json:"job_subscriptions"`
}

// RouterStats counts what the event router has seen since startup.
type RouterStats struct {
	Received      int64 `json:"received"`
	Routed        int64 `json:"routed"`
	Delivered     int64 `json:"delivered"`
	ParseFailures int64 `json:"parse_failures"`
	NoRecipient   int64 `json:"no_recipient"`
	AuditDropped  int64 `json:"audit_dropped"`
}
