// Package model defines the core domain types for event registration.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType decides whether an event is entered alone or as a team, and
// whether a participant may enter more than once.
type EventType string

const (
	EventSoloSingle EventType = "SOLO_SINGLE"
	EventSoloMulti  EventType = "SOLO_MULTI"
	EventTeam       EventType = "TEAM"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventSoloSingle, EventSoloMulti, EventTeam:
		return true
	}
	return false
}

// Solo reports whether participants enter the event alone.
func (t EventType) Solo() bool {
	return t == EventSoloSingle || t == EventSoloMulti
}

// Identity is what the identity provider yields for an authenticated caller.
type Identity struct {
	ParticipantID int64  `json:"participant_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
}

// Participant is a registered person. Established by the external session.
type Participant struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Event is a registrable event. Fee is in the smallest currency unit.
type Event struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        EventType `json:"type"`
	Fee         int64     `json:"fee"`
	MaxTeamSize *int      `json:"max_team_size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TeamFull reports whether a team with the given member count is at the
// event's capacity. Events without a limit are never full.
func (e *Event) TeamFull(members int) bool {
	return e.MaxTeamSize != nil && members >= *e.MaxTeamSize
}

// Team is a group entry for a TEAM event. Fee is the event fee at the
// time the team was created.
type Team struct {
	ID        int64         `json:"id"`
	EventID   int64         `json:"event_id"`
	Name      string        `json:"name"`
	LeaderID  int64         `json:"leader_id"`
	Confirmed bool          `json:"confirmed"`
	Fee       int64         `json:"fee"`
	Members   []Participant `json:"members"`
	CreatedAt time.Time     `json:"created_at"`
}

// HasMember reports whether participantID belongs to the team.
func (t *Team) HasMember(participantID int64) bool {
	for _, m := range t.Members {
		if m.ID == participantID {
			return true
		}
	}
	return false
}

// Registration is a solo entry.
type Registration struct {
	ID            int64     `json:"id"`
	EventID       int64     `json:"event_id"`
	ParticipantID int64     `json:"participant_id"`
	Confirmed     bool      `json:"confirmed"`
	Fee           int64     `json:"fee"`
	CreatedAt     time.Time `json:"created_at"`
}

// SubjectKind names what a payment order pays for.
type SubjectKind string

const (
	SubjectTeam         SubjectKind = "TEAM"
	SubjectRegistration SubjectKind = "REGISTRATION"
)

// Valid reports whether k is a known subject kind.
func (k SubjectKind) Valid() bool {
	return k == SubjectTeam || k == SubjectRegistration
}

// SubjectRef identifies a Team or a Registration.
type SubjectRef struct {
	Kind SubjectKind `json:"kind"`
	ID   int64       `json:"id"`
}

func (s SubjectRef) String() string {
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

// OrderStatus is the lifecycle of a payment order.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderPending   OrderStatus = "PENDING"
	OrderSucceeded OrderStatus = "SUCCEEDED"
	OrderFailed    OrderStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderSucceeded || s == OrderFailed
}

// PaymentOrder is one attempt at collecting a subject's fee.
type PaymentOrder struct {
	ID          string      `json:"id"`
	Subject     SubjectRef  `json:"subject"`
	Amount      int64       `json:"amount"`
	Status      OrderStatus `json:"status"`
	ProviderRef string      `json:"provider_ref,omitempty"`
	CheckoutURL string      `json:"checkout_url,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Outcome is what the payment provider reports for an order.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// Settlement summarises the effect of applying a provider callback.
type Settlement struct {
	Order PaymentOrder `json:"order"`
	// Confirmed is true when this call flipped the subject's flag.
	Confirmed bool `json:"confirmed"`
	// Replayed is true when the order was already terminal and nothing changed.
	Replayed bool `json:"replayed"`
	// Duplicate is true when the order succeeded but the subject had already
	// been confirmed through another order.
	Duplicate bool `json:"duplicate"`
}

// ─── Requests ────────────────────────────────────────────────────────────────

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name        string    `json:"name"`
	Type        EventType `json:"type"`
	Fee         int64     `json:"fee"`
	MaxTeamSize *int      `json:"max_team_size,omitempty"`
}

// CreateTeamRequest is the payload for creating a team.
type CreateTeamRequest struct {
	Name string `json:"name"`
}

// JoinTeamRequest carries the human-entered team code.
type JoinTeamRequest struct {
	Code string `json:"code"`
}

// TeamChanges lists the editable team fields. Nil means unchanged.
type TeamChanges struct {
	Name *string `json:"name,omitempty"`
}

// CreateOrderRequest is the payload for starting a payment.
type CreateOrderRequest struct {
	SubjectKind SubjectKind `json:"subject_kind"`
	SubjectID   int64       `json:"subject_id"`
	Amount      int64       `json:"amount"`
}

// ProviderCallback is the provider's asynchronous report for an order.
type ProviderCallback struct {
	OrderID     string  `json:"order_id"`
	ProviderRef string  `json:"provider_ref"`
	Outcome     Outcome `json:"outcome"`
	Signature   string  `json:"-"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// OutboxMessage is a domain event written in the same transaction as the
// state change it describes.
type OutboxMessage struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
