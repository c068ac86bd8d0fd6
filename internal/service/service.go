// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
	"github.com/Shivanand-hulikatti/event-registration/internal/codec"
	"github.com/Shivanand-hulikatti/event-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/registration"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository"
	"github.com/Shivanand-hulikatti/event-registration/internal/telemetry"
	"github.com/Shivanand-hulikatti/event-registration/internal/view"
)

const (
	maxNameLength = 100
	maxTeamSize   = 1_000
)

// instrumentation wraps every operation in a span, a counter and a log line.
type instrumentation struct {
	tracer  trace.Tracer
	metrics *metrics.Metrics
	log     *slog.Logger
}

func newInstrumentation(m *metrics.Metrics, log *slog.Logger) instrumentation {
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = slog.Default()
	}
	return instrumentation{tracer: telemetry.Tracer(), metrics: m, log: log}
}

// start opens a span for op. The returned func must be called with the
// operation's final error.
func (in instrumentation) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := in.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		defer span.End()
		in.metrics.Operation(op, err)
		if err == nil {
			return
		}
		kind := apperr.KindOf(err)
		span.SetAttributes(attribute.String("error.kind", string(kind)))
		switch kind {
		case apperr.KindInternal, apperr.KindUnavailable:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			in.log.ErrorContext(ctx, op+" failed", "error", err)
		default:
			in.log.DebugContext(ctx, op+" rejected", "kind", kind, "reason", apperr.MessageOf(err))
		}
	}
}

// RegistrationService is the mutation gateway: registerSolo, createTeam,
// joinTeam and editTeam, plus the event catalogue and the status read.
type RegistrationService struct {
	instrumentation
	store repository.Store
	codec *codec.Codec
}

// NewRegistrationService constructs a RegistrationService with its dependencies.
func NewRegistrationService(store repository.Store, c *codec.Codec, m *metrics.Metrics, log *slog.Logger) *RegistrationService {
	return &RegistrationService{instrumentation: newInstrumentation(m, log), store: store, codec: c}
}

// checkIdentity rejects unauthenticated callers and mirrors the identity
// into the store so member lists can show names.
func checkIdentity(ctx context.Context, store repository.ParticipantStore, id model.Identity) error {
	if id.ParticipantID <= 0 {
		return apperr.ErrUnauthenticated
	}
	return store.SaveParticipant(ctx, model.Participant{
		ID:    id.ParticipantID,
		Name:  strings.TrimSpace(id.Name),
		Email: strings.TrimSpace(strings.ToLower(id.Email)),
	})
}

func invalidRequest(msg string) error {
	return apperr.New(apperr.KindInvalidRequest, msg)
}

func cleanName(name, field string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalidRequest(field + " is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", invalidRequest(fmt.Sprintf("%s cannot exceed %d characters", field, maxNameLength))
	}
	return name, nil
}

// CreateEvent validates the request and delegates to the repository.
func (s *RegistrationService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (_ *model.Event, err error) {
	ctx, done := s.start(ctx, "create_event")
	defer func() { done(err) }()

	if req.Name, err = cleanName(req.Name, "event name"); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, invalidRequest("type must be SOLO_SINGLE, SOLO_MULTI or TEAM")
	}
	if req.Fee < 0 {
		return nil, invalidRequest("fee cannot be negative")
	}
	if req.MaxTeamSize != nil {
		if req.Type != model.EventTeam {
			return nil, invalidRequest("max_team_size only applies to TEAM events")
		}
		if *req.MaxTeamSize <= 0 {
			return nil, invalidRequest("max_team_size must be a positive integer")
		}
		if *req.MaxTeamSize > maxTeamSize {
			return nil, invalidRequest(fmt.Sprintf("max_team_size cannot exceed %d", maxTeamSize))
		}
	}
	return s.store.CreateEvent(ctx, req)
}

// ListEvents returns all events.
func (s *RegistrationService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.ListEvents(ctx)
}

// GetEvent returns a single event by ID.
func (s *RegistrationService) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	return s.store.GetEvent(ctx, id)
}

// RegisterSolo enters the caller into a solo event. A non-empty
// idempotencyKey makes a retried call return the first call's registration.
func (s *RegistrationService) RegisterSolo(ctx context.Context, id model.Identity, eventID int64, idempotencyKey string) (_ *model.Registration, err error) {
	ctx, done := s.start(ctx, "register_solo",
		attribute.Int64("event.id", eventID), attribute.Int64("participant.id", id.ParticipantID))
	defer func() { done(err) }()

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if len(idempotencyKey) > 255 {
		return nil, invalidRequest("idempotency key cannot exceed 255 characters")
	}
	if err := checkIdentity(ctx, s.store, id); err != nil {
		return nil, err
	}

	reg, err := s.store.CreateRegistration(ctx, repository.NewRegistration{
		EventID:        eventID,
		ParticipantID:  id.ParticipantID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("register for event: %w", err)
	}
	s.log.InfoContext(ctx, "registered",
		"event_id", eventID, "participant_id", id.ParticipantID, "registration_id", reg.ID, "confirmed", reg.Confirmed)
	return reg, nil
}

// CreateTeam creates a team led by the caller.
func (s *RegistrationService) CreateTeam(ctx context.Context, id model.Identity, eventID int64, name string) (_ *model.Team, err error) {
	ctx, done := s.start(ctx, "create_team",
		attribute.Int64("event.id", eventID), attribute.Int64("participant.id", id.ParticipantID))
	defer func() { done(err) }()

	if name, err = cleanName(name, "team name"); err != nil {
		return nil, err
	}
	if err := checkIdentity(ctx, s.store, id); err != nil {
		return nil, err
	}

	team, err := s.store.CreateTeam(ctx, eventID, id.ParticipantID, name)
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	s.log.InfoContext(ctx, "team created",
		"event_id", eventID, "team_id", team.ID, "team_code", s.codec.Encode(codec.KindTeam, team.ID))
	return team, nil
}

// JoinTeam adds the caller to the team a human-entered code refers to.
func (s *RegistrationService) JoinTeam(ctx context.Context, id model.Identity, code string) (_ *model.Team, err error) {
	ctx, done := s.start(ctx, "join_team", attribute.Int64("participant.id", id.ParticipantID))
	defer func() { done(err) }()

	teamID, err := s.codec.DecodeAs(codec.KindTeam, code)
	if err != nil {
		return nil, err
	}
	if err := checkIdentity(ctx, s.store, id); err != nil {
		return nil, err
	}

	team, err := s.store.JoinTeam(ctx, teamID, id.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("join team: %w", err)
	}
	s.log.InfoContext(ctx, "team joined",
		"team_id", team.ID, "participant_id", id.ParticipantID, "members", len(team.Members))
	return team, nil
}

// EditTeam applies the leader's changes to an unconfirmed team.
func (s *RegistrationService) EditTeam(ctx context.Context, id model.Identity, teamID int64, changes model.TeamChanges) (_ *model.Team, err error) {
	ctx, done := s.start(ctx, "edit_team",
		attribute.Int64("team.id", teamID), attribute.Int64("participant.id", id.ParticipantID))
	defer func() { done(err) }()

	if changes.Name != nil {
		name, err := cleanName(*changes.Name, "team name")
		if err != nil {
			return nil, err
		}
		changes.Name = &name
	}
	if err := checkIdentity(ctx, s.store, id); err != nil {
		return nil, err
	}

	team, err := s.store.UpdateTeam(ctx, teamID, id.ParticipantID, changes)
	if err != nil {
		return nil, fmt.Errorf("edit team: %w", err)
	}
	return team, nil
}

// Status projects the caller's standing in an event. id is nil for
// unauthenticated callers. Every call reads the store afresh.
func (s *RegistrationService) Status(ctx context.Context, id *model.Identity, eventID int64) (_ view.View, err error) {
	ctx, done := s.start(ctx, "status", attribute.Int64("event.id", eventID))
	defer func() { done(err) }()

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return view.View{}, err
	}
	in := view.Input{Event: event, Identity: id}
	if id == nil {
		return view.Project(s.codec, in), nil
	}

	if event.Type == model.EventTeam {
		team, err := s.store.FindTeam(ctx, eventID, id.ParticipantID)
		switch {
		case err == nil:
			in.Entry = registration.TeamEntry(team)
		case !errors.Is(err, apperr.ErrNotFound):
			return view.View{}, fmt.Errorf("find team: %w", err)
		}
	} else {
		regs, err := s.store.ListRegistrations(ctx, eventID, id.ParticipantID)
		if err != nil {
			return view.View{}, fmt.Errorf("list registrations: %w", err)
		}
		in.Registrations = regs
		in.Entry = currentRegistration(regs)
	}

	if subject, ok := in.Entry.Subject(); ok && !in.Entry.Confirmed() {
		order, err := s.store.FindOpenOrder(ctx, subject)
		switch {
		case err == nil:
			in.OpenOrder = order
		case !errors.Is(err, apperr.ErrNotFound):
			return view.View{}, fmt.Errorf("find open order: %w", err)
		}
	}
	return view.Project(s.codec, in), nil
}

// currentRegistration picks the registration the status is about: the
// oldest one still awaiting payment, otherwise the newest.
func currentRegistration(regs []model.Registration) registration.Entry {
	for i := range regs {
		if !regs[i].Confirmed && regs[i].Fee > 0 {
			return registration.RegistrationEntry(&regs[i])
		}
	}
	if len(regs) == 0 {
		return registration.Entry{}
	}
	return registration.RegistrationEntry(&regs[len(regs)-1])
}
