package repository

import (
	"context"
	"embed"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/registration"
)

// Migrations holds the goose SQL migrations for the PostgreSQL store.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that goose reads.
const MigrationsDir = "migrations"

// NewRegistration is the input of Store.CreateRegistration.
type NewRegistration struct {
	EventID       int64
	ParticipantID int64
	// IdempotencyKey, when set, makes a replayed call return the
	// registration created by the first call.
	IdempotencyKey string
}

// EventStore persists the event catalogue.
type EventStore interface {
	CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
}

// ParticipantStore mirrors identities into the store so that membership
// lists can show names.
type ParticipantStore interface {
	SaveParticipant(ctx context.Context, p model.Participant) error
}

// RegistrationStore persists solo entries.
type RegistrationStore interface {
	// CreateRegistration atomically creates a registration. For SOLO_SINGLE
	// events a second registration fails with apperr.ErrAlreadyRegistered.
	// Free events are written with Confirmed set.
	CreateRegistration(ctx context.Context, in NewRegistration) (*model.Registration, error)
	ListRegistrations(ctx context.Context, eventID, participantID int64) ([]model.Registration, error)
	GetRegistration(ctx context.Context, id int64) (*model.Registration, error)
}

// TeamStore persists team entries.
type TeamStore interface {
	// CreateTeam atomically creates a team led by leaderID; fails with
	// apperr.ErrAlreadyInTeam if leaderID is in any team for the event.
	CreateTeam(ctx context.Context, eventID, leaderID int64, name string) (*model.Team, error)
	// JoinTeam atomically appends participantID to the team's members,
	// serialised per team so the capacity check cannot be raced.
	JoinTeam(ctx context.Context, teamID, participantID int64) (*model.Team, error)
	// UpdateTeam applies leader-only edits to an unconfirmed team.
	UpdateTeam(ctx context.Context, teamID, callerID int64, changes model.TeamChanges) (*model.Team, error)
	GetTeam(ctx context.Context, id int64) (*model.Team, error)
	// FindTeam returns the team participantID belongs to for the event, or
	// apperr.ErrNotFound.
	FindTeam(ctx context.Context, eventID, participantID int64) (*model.Team, error)
}

// OrderStore persists payment orders and applies their outcomes.
type OrderStore interface {
	// OpenOrder validates the subject against callerID and amount and
	// returns its open order, creating one in CREATED state if none is open.
	// created reports whether a new order was written.
	OpenOrder(ctx context.Context, subject model.SubjectRef, callerID, amount int64) (order *model.PaymentOrder, created bool, err error)
	// MarkOrderPending records the provider handle on a CREATED order. An
	// order that already moved on is returned unchanged.
	MarkOrderPending(ctx context.Context, orderID, providerRef, checkoutURL string) (*model.PaymentOrder, error)
	// FailOrder moves a non-terminal order to FAILED.
	FailOrder(ctx context.Context, orderID string) (*model.PaymentOrder, error)
	GetOrder(ctx context.Context, orderID string) (*model.PaymentOrder, error)
	// FindOpenOrder returns the subject's CREATED or PENDING order, or
	// apperr.ErrNotFound.
	FindOpenOrder(ctx context.Context, subject model.SubjectRef) (*model.PaymentOrder, error)
	// SettleOrder applies a verified provider outcome in one atomic step:
	// the order becomes terminal and, on success, the subject's confirmed
	// flag is set if it was false.
	SettleOrder(ctx context.Context, orderID string, outcome model.Outcome) (*model.Settlement, error)
	// GetEntry loads the team or registration a subject refers to.
	GetEntry(ctx context.Context, subject model.SubjectRef) (registration.Entry, error)
}

// OutboxStore hands committed domain events to a publisher.
type OutboxStore interface {
	// ProcessOutbox claims up to limit unprocessed messages, passes them to
	// publish and marks them processed if publish succeeds. It returns the
	// number of messages processed.
	ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []model.OutboxMessage) error) (int, error)
}

// Store is the authoritative store.
type Store interface {
	EventStore
	ParticipantStore
	RegistrationStore
	TeamStore
	OrderStore
	OutboxStore
}

// Outbox topics.
const (
	TopicRegistrationCreated   = "registration.created"
	TopicRegistrationConfirmed = "registration.confirmed"
	TopicTeamCreated           = "team.created"
	TopicTeamMemberJoined      = "team.member_joined"
	TopicTeamRenamed           = "team.renamed"
	TopicTeamConfirmed         = "team.confirmed"
	TopicOrderCreated          = "payment.order_created"
	TopicPaymentSucceeded      = "payment.succeeded"
	TopicPaymentFailed         = "payment.failed"
	TopicPaymentDuplicate      = "payment.duplicate"
)

// ConfirmedTopic returns the topic announcing that subject was confirmed.
func ConfirmedTopic(kind model.SubjectKind) string {
	if kind == model.SubjectTeam {
		return TopicTeamConfirmed
	}
	return TopicRegistrationConfirmed
}
