// Package memstore is an in-memory repository.Store. A single mutex makes
// every operation atomic, which gives the same guarantees the PostgreSQL
// store gets from row locks and unique indexes. It backs the test suites and
// STORE_DRIVER=memory.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/registration"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository"
)

type outboxRow struct {
	msg       model.OutboxMessage
	processed bool
}

type idemKey struct {
	participantID int64
	key           string
}

type memberKey struct {
	eventID       int64
	participantID int64
}

// Store is the in-memory repository.Store.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	nextEvent, nextTeam, nextReg int64

	events        map[int64]*model.Event
	participants  map[int64]model.Participant
	registrations map[int64]*model.Registration
	idempotency   map[idemKey]int64
	teams         map[int64]*model.Team
	memberOf      map[memberKey]int64
	orders        map[string]*model.PaymentOrder
	outbox        []outboxRow
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		now:           func() time.Time { return time.Now().UTC() },
		events:        make(map[int64]*model.Event),
		participants:  make(map[int64]model.Participant),
		registrations: make(map[int64]*model.Registration),
		idempotency:   make(map[idemKey]int64),
		teams:         make(map[int64]*model.Team),
		memberOf:      make(map[memberKey]int64),
		orders:        make(map[string]*model.PaymentOrder),
	}
}

func notFound(what string) error {
	return apperr.New(apperr.KindNotFound, what+" not found")
}

func (s *Store) emit(topic, key string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain model structs.
		panic(fmt.Sprintf("memstore: marshal %s payload: %v", topic, err))
	}
	s.outbox = append(s.outbox, outboxRow{msg: model.OutboxMessage{
		ID:        uuid.New(),
		Topic:     topic,
		Key:       key,
		Payload:   body,
		CreatedAt: s.now(),
	}})
}

func copyTeam(t *model.Team) *model.Team {
	c := *t
	c.Members = append([]model.Participant(nil), t.Members...)
	return &c
}

func copyEvent(e *model.Event) *model.Event {
	c := *e
	if e.MaxTeamSize != nil {
		n := *e.MaxTeamSize
		c.MaxTeamSize = &n
	}
	return &c
}

func (s *Store) participant(id int64) model.Participant {
	if p, ok := s.participants[id]; ok {
		return p
	}
	return model.Participant{ID: id}
}

// ─── Events ──────────────────────────────────────────────────────────────────

func (s *Store) CreateEvent(_ context.Context, req model.CreateEventRequest) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEvent++
	e := &model.Event{
		ID:          s.nextEvent,
		Name:        req.Name,
		Type:        req.Type,
		Fee:         req.Fee,
		MaxTeamSize: req.MaxTeamSize,
		CreatedAt:   s.now(),
	}
	s.events[e.ID] = copyEvent(e)
	return e, nil
}

func (s *Store) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, *copyEvent(e))
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID > events[j].ID })
	return events, nil
}

func (s *Store) GetEvent(_ context.Context, id int64) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return nil, notFound("event")
	}
	return copyEvent(e), nil
}

// ─── Participants ────────────────────────────────────────────────────────────

func (s *Store) SaveParticipant(_ context.Context, p model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.participants[p.ID] = p
	// Keep denormalised member lists in step with the latest identity.
	for key, teamID := range s.memberOf {
		if key.participantID != p.ID {
			continue
		}
		t := s.teams[teamID]
		for i := range t.Members {
			if t.Members[i].ID == p.ID {
				t.Members[i] = p
			}
		}
	}
	return nil
}

// ─── Registrations ───────────────────────────────────────────────────────────

func (s *Store) CreateRegistration(_ context.Context, in repository.NewRegistration) (*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[in.EventID]
	if !ok {
		return nil, notFound("event")
	}
	if err := registration.CheckRegister(e); err != nil {
		return nil, err
	}

	ik := idemKey{in.ParticipantID, in.IdempotencyKey}
	if in.IdempotencyKey != "" {
		if id, ok := s.idempotency[ik]; ok {
			reg := s.registrations[id]
			if reg.EventID != in.EventID {
				return nil, apperr.New(apperr.KindInvalidRequest, "idempotency key already used for another event")
			}
			c := *reg
			return &c, nil
		}
	}

	if e.Type == model.EventSoloSingle {
		for _, reg := range s.registrations {
			if reg.EventID == e.ID && reg.ParticipantID == in.ParticipantID {
				return nil, apperr.ErrAlreadyRegistered
			}
		}
	}

	s.nextReg++
	reg := &model.Registration{
		ID:            s.nextReg,
		EventID:       e.ID,
		ParticipantID: in.ParticipantID,
		Confirmed:     registration.ConfirmedAtCreation(e),
		Fee:           e.Fee,
		CreatedAt:     s.now(),
	}
	s.registrations[reg.ID] = reg
	if in.IdempotencyKey != "" {
		s.idempotency[ik] = reg.ID
	}

	key := strconv.FormatInt(reg.ID, 10)
	s.emit(repository.TopicRegistrationCreated, key, reg)
	if reg.Confirmed {
		s.emit(repository.TopicRegistrationConfirmed, key, reg)
	}
	c := *reg
	return &c, nil
}

func (s *Store) ListRegistrations(_ context.Context, eventID, participantID int64) ([]model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var regs []model.Registration
	for _, reg := range s.registrations {
		if reg.EventID == eventID && reg.ParticipantID == participantID {
			regs = append(regs, *reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].ID < regs[j].ID })
	return regs, nil
}

func (s *Store) GetRegistration(_ context.Context, id int64) (*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return nil, notFound("registration")
	}
	c := *reg
	return &c, nil
}

// ─── Teams ───────────────────────────────────────────────────────────────────

func (s *Store) CreateTeam(_ context.Context, eventID, leaderID int64, name string) (*model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return nil, notFound("event")
	}
	if err := registration.CheckCreateTeam(e, name); err != nil {
		return nil, err
	}
	mk := memberKey{eventID, leaderID}
	if _, ok := s.memberOf[mk]; ok {
		return nil, apperr.ErrAlreadyInTeam
	}

	s.nextTeam++
	t := &model.Team{
		ID:        s.nextTeam,
		EventID:   eventID,
		Name:      name,
		LeaderID:  leaderID,
		Fee:       e.Fee,
		Members:   []model.Participant{s.participant(leaderID)},
		CreatedAt: s.now(),
	}
	s.teams[t.ID] = t
	s.memberOf[mk] = t.ID

	s.emit(repository.TopicTeamCreated, strconv.FormatInt(t.ID, 10), t)
	return copyTeam(t), nil
}

func (s *Store) JoinTeam(_ context.Context, teamID, participantID int64) (*model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return nil, notFound("team")
	}
	mk := memberKey{t.EventID, participantID}
	_, inTeam := s.memberOf[mk]
	if err := registration.CheckJoin(s.events[t.EventID], t, inTeam); err != nil {
		return nil, err
	}

	t.Members = append(t.Members, s.participant(participantID))
	s.memberOf[mk] = t.ID

	s.emit(repository.TopicTeamMemberJoined, strconv.FormatInt(t.ID, 10), map[string]int64{
		"team_id":        t.ID,
		"event_id":       t.EventID,
		"participant_id": participantID,
	})
	return copyTeam(t), nil
}

func (s *Store) UpdateTeam(_ context.Context, teamID, callerID int64, changes model.TeamChanges) (*model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return nil, notFound("team")
	}
	if err := registration.CheckEdit(t, callerID); err != nil {
		return nil, err
	}
	if changes.Name != nil && *changes.Name != t.Name {
		t.Name = *changes.Name
		s.emit(repository.TopicTeamRenamed, strconv.FormatInt(t.ID, 10), t)
	}
	return copyTeam(t), nil
}

func (s *Store) GetTeam(_ context.Context, id int64) (*model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, notFound("team")
	}
	return copyTeam(t), nil
}

func (s *Store) FindTeam(_ context.Context, eventID, participantID int64) (*model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.memberOf[memberKey{eventID, participantID}]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "no team for this event")
	}
	return copyTeam(s.teams[id]), nil
}

// ─── Payment orders ──────────────────────────────────────────────────────────

func (s *Store) entry(subject model.SubjectRef) (registration.Entry, error) {
	switch subject.Kind {
	case model.SubjectTeam:
		t, ok := s.teams[subject.ID]
		if !ok {
			return registration.Entry{}, notFound("team")
		}
		return registration.TeamEntry(copyTeam(t)), nil
	case model.SubjectRegistration:
		reg, ok := s.registrations[subject.ID]
		if !ok {
			return registration.Entry{}, notFound("registration")
		}
		c := *reg
		return registration.RegistrationEntry(&c), nil
	default:
		return registration.Entry{}, apperr.New(apperr.KindInvalidRequest, "unknown subject kind")
	}
}

func (s *Store) openOrder(subject model.SubjectRef) *model.PaymentOrder {
	for _, o := range s.orders {
		if o.Subject == subject && !o.Status.Terminal() {
			return o
		}
	}
	return nil
}

func (s *Store) GetEntry(_ context.Context, subject model.SubjectRef) (registration.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.entry(subject)
}

func (s *Store) OpenOrder(_ context.Context, subject model.SubjectRef, callerID, amount int64) (*model.PaymentOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entry(subject)
	if err != nil {
		return nil, false, err
	}
	if err := registration.CheckOrder(entry, callerID, amount); err != nil {
		return nil, false, err
	}
	if o := s.openOrder(subject); o != nil {
		c := *o
		return &c, false, nil
	}

	now := s.now()
	o := &model.PaymentOrder{
		ID:        uuid.New().String(),
		Subject:   subject,
		Amount:    amount,
		Status:    model.OrderCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.orders[o.ID] = o
	s.emit(repository.TopicOrderCreated, o.ID, o)
	c := *o
	return &c, true, nil
}

func (s *Store) MarkOrderPending(_ context.Context, orderID, providerRef, checkoutURL string) (*model.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, notFound("payment order")
	}
	if o.Status == model.OrderCreated {
		o.Status = model.OrderPending
		o.ProviderRef = providerRef
		o.CheckoutURL = checkoutURL
		o.UpdatedAt = s.now()
	}
	c := *o
	return &c, nil
}

func (s *Store) FailOrder(_ context.Context, orderID string) (*model.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, notFound("payment order")
	}
	if !o.Status.Terminal() {
		o.Status = model.OrderFailed
		o.UpdatedAt = s.now()
	}
	c := *o
	return &c, nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*model.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, notFound("payment order")
	}
	c := *o
	return &c, nil
}

func (s *Store) FindOpenOrder(_ context.Context, subject model.SubjectRef) (*model.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.openOrder(subject)
	if o == nil {
		return nil, apperr.New(apperr.KindNotFound, "no open payment order")
	}
	c := *o
	return &c, nil
}

func (s *Store) SettleOrder(_ context.Context, orderID string, outcome model.Outcome) (*model.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, notFound("payment order")
	}
	if o.Status.Terminal() {
		return &model.Settlement{Order: *o, Replayed: true}, nil
	}

	o.UpdatedAt = s.now()
	if outcome != model.OutcomeSuccess {
		o.Status = model.OrderFailed
		s.emit(repository.TopicPaymentFailed, o.ID, o)
		return &model.Settlement{Order: *o}, nil
	}

	o.Status = model.OrderSucceeded
	var flag *bool
	switch o.Subject.Kind {
	case model.SubjectTeam:
		flag = &s.teams[o.Subject.ID].Confirmed
	case model.SubjectRegistration:
		flag = &s.registrations[o.Subject.ID].Confirmed
	}

	settlement := &model.Settlement{Order: *o}
	if *flag {
		settlement.Duplicate = true
		s.emit(repository.TopicPaymentDuplicate, o.ID, o)
		return settlement, nil
	}
	*flag = true
	settlement.Confirmed = true
	s.emit(repository.ConfirmedTopic(o.Subject.Kind), strconv.FormatInt(o.Subject.ID, 10), o.Subject)
	s.emit(repository.TopicPaymentSucceeded, o.ID, o)
	return settlement, nil
}

// ─── Outbox ──────────────────────────────────────────────────────────────────

func (s *Store) ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []model.OutboxMessage) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		batch []model.OutboxMessage
		idx   []int
	)
	for i := range s.outbox {
		if len(batch) == limit {
			break
		}
		if !s.outbox[i].processed {
			batch = append(batch, s.outbox[i].msg)
			idx = append(idx, i)
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := publish(ctx, batch); err != nil {
		return 0, err
	}
	for _, i := range idx {
		s.outbox[i].processed = true
	}
	return len(batch), nil
}

// Pending returns the number of unprocessed outbox messages.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, row := range s.outbox {
		if !row.processed {
			n++
		}
	}
	return n
}
