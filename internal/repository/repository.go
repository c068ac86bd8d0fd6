// Package repository is the authoritative store. Every mutation runs as a
// single PostgreSQL transaction and leans on the schema's unique indexes and
// row locks for atomicity; nothing is checked in Go and then written
// without the row or constraint that makes the check stick.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/registration"
)

// Postgres is the PostgreSQL-backed Store.
type Postgres struct {
	*EventRepository
	*ParticipantRepository
	*RegistrationRepository
	*TeamRepository
	*OrderRepository
	*OutboxRepository
}

var _ Store = (*Postgres)(nil)

// NewPostgres builds a Store on top of pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		EventRepository:        &EventRepository{db: pool},
		ParticipantRepository:  &ParticipantRepository{db: pool},
		RegistrationRepository: &RegistrationRepository{db: pool},
		TeamRepository:         &TeamRepository{db: pool},
		OrderRepository:        &OrderRepository{db: pool},
		OutboxRepository:       &OutboxRepository{db: pool},
	}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// withTx runs fn inside a transaction, committing only if fn succeeds.
func withTx(ctx context.Context, db *pgxpool.Pool, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// storeErr passes domain errors through and turns connectivity failures
// into apperr.ErrUnavailable so callers know a retry is safe.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "registrations_single_entry_key":
			return apperr.ErrAlreadyRegistered
		case "team_members_event_participant_key", "team_members_pkey":
			return apperr.ErrAlreadyInTeam
		}
	}
	var connErr *pgconn.ConnectError
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return apperr.Wrap(apperr.KindUnavailable, "store unavailable", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, topic, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO outbox_messages (id, topic, entity_key, payload) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), topic, key, body,
	)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

func idKey(id int64) string { return strconv.FormatInt(id, 10) }

// ─── Events ──────────────────────────────────────────────────────────────────

// EventRepository handles persistence for events.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, name, event_type, fee, max_team_size, created_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		e         model.Event
		eventType string
	)
	if err := row.Scan(&e.ID, &e.Name, &eventType, &e.Fee, &e.MaxTeamSize, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = model.EventType(eventType)
	return &e, nil
}

func getEvent(ctx context.Context, q querier, id int64) (*model.Event, error) {
	e, err := scanEvent(q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "event not found")
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// CreateEvent inserts a new event.
func (r *EventRepository) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx,
		`INSERT INTO events (name, event_type, fee, max_team_size)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+eventColumns,
		req.Name, string(req.Type), req.Fee, req.MaxTeamSize,
	))
	if err != nil {
		return nil, storeErr("insert event", err)
	}
	return e, nil
}

// ListEvents returns all events ordered by creation time descending.
func (r *EventRepository) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, storeErr("list events", rows.Err())
}

// GetEvent returns a single event or apperr.ErrNotFound.
func (r *EventRepository) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	e, err := getEvent(ctx, r.db, id)
	return e, storeErr("get event", err)
}

// ─── Participants ────────────────────────────────────────────────────────────

// ParticipantRepository mirrors identities into the participants table.
type ParticipantRepository struct {
	db *pgxpool.Pool
}

// SaveParticipant inserts or refreshes a participant's name and email.
func (r *ParticipantRepository) SaveParticipant(ctx context.Context, p model.Participant) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO participants (id, name, email) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = now()`,
		p.ID, p.Name, p.Email,
	)
	return storeErr("save participant", err)
}

// ─── Registrations ───────────────────────────────────────────────────────────

// RegistrationRepository handles persistence for solo registrations.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

const registrationColumns = `id, event_id, participant_id, confirmed, fee, created_at`

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var reg model.Registration
	if err := row.Scan(&reg.ID, &reg.EventID, &reg.ParticipantID, &reg.Confirmed, &reg.Fee, &reg.CreatedAt); err != nil {
		return nil, err
	}
	return &reg, nil
}

func getRegistration(ctx context.Context, q querier, id int64, lock bool) (*model.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	reg, err := scanRegistration(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "registration not found")
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

func findByIdempotencyKey(ctx context.Context, q querier, participantID int64, key string) (*model.Registration, error) {
	reg, err := scanRegistration(q.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE participant_id = $1 AND idempotency_key = $2`,
		participantID, key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return reg, err
}

// CreateRegistration performs a concurrency-safe solo registration.
//
// Two concurrent calls for a SOLO_SINGLE event both reach the INSERT; the
// partial unique index on (event_id, participant_id) WHERE single_entry
// makes the second one a no-op, which is reported as AlreadyRegistered.
// The same mechanism on (participant_id, idempotency_key) turns a replayed
// request into a read of the first result.
func (r *RegistrationRepository) CreateRegistration(ctx context.Context, in NewRegistration) (*model.Registration, error) {
	var reg *model.Registration
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		event, err := getEvent(ctx, tx, in.EventID)
		if err != nil {
			return err
		}
		if err := registration.CheckRegister(event); err != nil {
			return err
		}

		replay := func() (bool, error) {
			if in.IdempotencyKey == "" {
				return false, nil
			}
			existing, err := findByIdempotencyKey(ctx, tx, in.ParticipantID, in.IdempotencyKey)
			if errors.Is(err, apperr.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, fmt.Errorf("find by idempotency key: %w", err)
			}
			if existing.EventID != in.EventID {
				return false, apperr.New(apperr.KindInvalidRequest, "idempotency key already used for another event")
			}
			reg = existing
			return true, nil
		}

		if done, err := replay(); done || err != nil {
			return err
		}

		var key *string
		if in.IdempotencyKey != "" {
			key = &in.IdempotencyKey
		}
		created, err := scanRegistration(tx.QueryRow(ctx,
			`INSERT INTO registrations (event_id, participant_id, single_entry, confirmed, fee, idempotency_key)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT DO NOTHING
			 RETURNING `+registrationColumns,
			event.ID, in.ParticipantID, event.Type == model.EventSoloSingle,
			registration.ConfirmedAtCreation(event), event.Fee, key,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent replay of the same key wins over AlreadyRegistered.
			if done, err := replay(); done || err != nil {
				return err
			}
			return apperr.ErrAlreadyRegistered
		}
		if err != nil {
			return fmt.Errorf("insert registration: %w", err)
		}
		reg = created

		if err := insertOutbox(ctx, tx, TopicRegistrationCreated, idKey(reg.ID), reg); err != nil {
			return err
		}
		if reg.Confirmed {
			return insertOutbox(ctx, tx, TopicRegistrationConfirmed, idKey(reg.ID), reg)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("create registration", err)
	}
	return reg, nil
}

// ListRegistrations returns a participant's registrations for an event,
// oldest first.
func (r *RegistrationRepository) ListRegistrations(ctx context.Context, eventID, participantID int64) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE event_id = $1 AND participant_id = $2
		 ORDER BY created_at ASC, id ASC`,
		eventID, participantID,
	)
	if err != nil {
		return nil, storeErr("list registrations", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, storeErr("list registrations", rows.Err())
}

// GetRegistration returns a registration or apperr.ErrNotFound.
func (r *RegistrationRepository) GetRegistration(ctx context.Context, id int64) (*model.Registration, error) {
	reg, err := getRegistration(ctx, r.db, id, false)
	return reg, storeErr("get registration", err)
}

// ─── Teams ───────────────────────────────────────────────────────────────────

// TeamRepository handles persistence for teams and their members.
type TeamRepository struct {
	db *pgxpool.Pool
}

const teamColumns = `id, event_id, name, leader_id, confirmed, fee, created_at`

func loadTeam(ctx context.Context, q querier, id int64, lock bool) (*model.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var t model.Team
	err := q.QueryRow(ctx, query, id).
		Scan(&t.ID, &t.EventID, &t.Name, &t.LeaderID, &t.Confirmed, &t.Fee, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "team not found")
		}
		return nil, fmt.Errorf("get team: %w", err)
	}
	if t.Members, err = loadMembers(ctx, q, t.ID); err != nil {
		return nil, err
	}
	return &t, nil
}

func loadMembers(ctx context.Context, q querier, teamID int64) ([]model.Participant, error) {
	rows, err := q.Query(ctx,
		`SELECT p.id, p.name, p.email
		 FROM team_members tm JOIN participants p ON p.id = tm.participant_id
		 WHERE tm.team_id = $1
		 ORDER BY tm.joined_at ASC, p.id ASC`,
		teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Email); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, p)
	}
	return members, rows.Err()
}

// addMember inserts the membership row. The (event_id, participant_id)
// unique constraint turns a second team for the same participant into a
// no-op, reported as AlreadyInTeam.
func addMember(ctx context.Context, tx pgx.Tx, team *model.Team, participantID int64) error {
	tag, err := tx.Exec(ctx,
		`INSERT INTO team_members (team_id, event_id, participant_id) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		team.ID, team.EventID, participantID,
	)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrAlreadyInTeam
	}
	return nil
}

// CreateTeam creates a team with the caller as leader and sole member.
func (r *TeamRepository) CreateTeam(ctx context.Context, eventID, leaderID int64, name string) (*model.Team, error) {
	var team *model.Team
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		event, err := getEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if err := registration.CheckCreateTeam(event, name); err != nil {
			return err
		}

		t := model.Team{EventID: event.ID, Name: name, LeaderID: leaderID, Fee: event.Fee}
		err = tx.QueryRow(ctx,
			`INSERT INTO teams (event_id, name, leader_id, fee) VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			t.EventID, t.Name, t.LeaderID, t.Fee,
		).Scan(&t.ID, &t.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert team: %w", err)
		}
		if err := addMember(ctx, tx, &t, leaderID); err != nil {
			return err
		}
		if t.Members, err = loadMembers(ctx, tx, t.ID); err != nil {
			return err
		}
		team = &t
		return insertOutbox(ctx, tx, TopicTeamCreated, idKey(t.ID), t)
	})
	if err != nil {
		return nil, storeErr("create team", err)
	}
	return team, nil
}

// JoinTeam adds participantID to a team.
//
// The team row is locked with SELECT … FOR UPDATE, so concurrent joins of
// the same team run one after another and each sees the member count the
// previous one left behind. Joins of different teams do not block each
// other.
func (r *TeamRepository) JoinTeam(ctx context.Context, teamID, participantID int64) (*model.Team, error) {
	var team *model.Team
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		t, err := loadTeam(ctx, tx, teamID, true)
		if err != nil {
			return err
		}
		event, err := getEvent(ctx, tx, t.EventID)
		if err != nil {
			return err
		}

		var inTeam bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM team_members WHERE event_id = $1 AND participant_id = $2)`,
			t.EventID, participantID,
		).Scan(&inTeam)
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if err := registration.CheckJoin(event, t, inTeam); err != nil {
			return err
		}

		if err := addMember(ctx, tx, t, participantID); err != nil {
			return err
		}
		if t.Members, err = loadMembers(ctx, tx, t.ID); err != nil {
			return err
		}
		team = t
		return insertOutbox(ctx, tx, TopicTeamMemberJoined, idKey(t.ID), map[string]int64{
			"team_id":        t.ID,
			"event_id":       t.EventID,
			"participant_id": participantID,
		})
	})
	if err != nil {
		return nil, storeErr("join team", err)
	}
	return team, nil
}

// UpdateTeam applies leader edits to an unconfirmed team.
func (r *TeamRepository) UpdateTeam(ctx context.Context, teamID, callerID int64, changes model.TeamChanges) (*model.Team, error) {
	var team *model.Team
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		t, err := loadTeam(ctx, tx, teamID, true)
		if err != nil {
			return err
		}
		if err := registration.CheckEdit(t, callerID); err != nil {
			return err
		}
		team = t
		if changes.Name == nil || *changes.Name == t.Name {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE teams SET name = $1 WHERE id = $2`, *changes.Name, t.ID); err != nil {
			return fmt.Errorf("rename team: %w", err)
		}
		t.Name = *changes.Name
		return insertOutbox(ctx, tx, TopicTeamRenamed, idKey(t.ID), t)
	})
	if err != nil {
		return nil, storeErr("update team", err)
	}
	return team, nil
}

// GetTeam returns a team with its members, or apperr.ErrNotFound.
func (r *TeamRepository) GetTeam(ctx context.Context, id int64) (*model.Team, error) {
	t, err := loadTeam(ctx, r.db, id, false)
	return t, storeErr("get team", err)
}

// FindTeam returns participantID's team for the event.
func (r *TeamRepository) FindTeam(ctx context.Context, eventID, participantID int64) (*model.Team, error) {
	var teamID int64
	err := r.db.QueryRow(ctx,
		`SELECT team_id FROM team_members WHERE event_id = $1 AND participant_id = $2`,
		eventID, participantID,
	).Scan(&teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "no team for this event")
		}
		return nil, storeErr("find team", err)
	}
	return r.GetTeam(ctx, teamID)
}

// ─── Payment orders ──────────────────────────────────────────────────────────

// OrderRepository handles persistence for payment orders.
type OrderRepository struct {
	db *pgxpool.Pool
}

const orderColumns = `id::text, subject_kind, subject_id, amount, status, provider_ref, checkout_url, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.PaymentOrder, error) {
	var (
		o            model.PaymentOrder
		kind, status string
	)
	err := row.Scan(&o.ID, &kind, &o.Subject.ID, &o.Amount, &status, &o.ProviderRef, &o.CheckoutURL, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Subject.Kind = model.SubjectKind(kind)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func getOrder(ctx context.Context, q querier, id string, lock bool) (*model.PaymentOrder, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.New(apperr.KindNotFound, "payment order not found")
	}
	query := `SELECT ` + orderColumns + ` FROM payment_orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "payment order not found")
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func findOpenOrder(ctx context.Context, q querier, subject model.SubjectRef) (*model.PaymentOrder, error) {
	o, err := scanOrder(q.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM payment_orders
		 WHERE subject_kind = $1 AND subject_id = $2 AND status IN ('CREATED', 'PENDING')`,
		string(subject.Kind), subject.ID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "no open payment order")
		}
		return nil, fmt.Errorf("find open order: %w", err)
	}
	return o, nil
}

func loadEntry(ctx context.Context, q querier, subject model.SubjectRef, lock bool) (registration.Entry, error) {
	switch subject.Kind {
	case model.SubjectTeam:
		t, err := loadTeam(ctx, q, subject.ID, lock)
		if err != nil {
			return registration.Entry{}, err
		}
		return registration.TeamEntry(t), nil
	case model.SubjectRegistration:
		reg, err := getRegistration(ctx, q, subject.ID, lock)
		if err != nil {
			return registration.Entry{}, err
		}
		return registration.RegistrationEntry(reg), nil
	default:
		return registration.Entry{}, apperr.New(apperr.KindInvalidRequest, "unknown subject kind")
	}
}

// GetEntry loads the team or registration subject refers to.
func (r *OrderRepository) GetEntry(ctx context.Context, subject model.SubjectRef) (registration.Entry, error) {
	entry, err := loadEntry(ctx, r.db, subject, false)
	return entry, storeErr("get entry", err)
}

// OpenOrder returns the subject's open order or creates a new one.
//
// The subject row is locked first, so concurrent calls for one subject
// serialise here; the partial unique index on open orders backs this up.
func (r *OrderRepository) OpenOrder(ctx context.Context, subject model.SubjectRef, callerID, amount int64) (*model.PaymentOrder, bool, error) {
	var (
		order   *model.PaymentOrder
		created bool
	)
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		entry, err := loadEntry(ctx, tx, subject, true)
		if err != nil {
			return err
		}
		if err := registration.CheckOrder(entry, callerID, amount); err != nil {
			return err
		}

		existing, err := findOpenOrder(ctx, tx, subject)
		switch {
		case err == nil:
			order = existing
			return nil
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}

		o, err := scanOrder(tx.QueryRow(ctx,
			`INSERT INTO payment_orders (id, subject_kind, subject_id, amount, status)
			 VALUES ($1, $2, $3, $4, 'CREATED')
			 RETURNING `+orderColumns,
			uuid.New().String(), string(subject.Kind), subject.ID, amount,
		))
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		order, created = o, true
		return insertOutbox(ctx, tx, TopicOrderCreated, o.ID, o)
	})
	if err != nil {
		return nil, false, storeErr("open order", err)
	}
	return order, created, nil
}

// MarkOrderPending records the provider handle on a CREATED order.
func (r *OrderRepository) MarkOrderPending(ctx context.Context, orderID, providerRef, checkoutURL string) (*model.PaymentOrder, error) {
	o, err := scanOrder(r.db.QueryRow(ctx,
		`UPDATE payment_orders
		 SET status = 'PENDING', provider_ref = $2, checkout_url = $3, updated_at = now()
		 WHERE id = $1 AND status = 'CREATED'
		 RETURNING `+orderColumns,
		orderID, providerRef, checkoutURL,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetOrder(ctx, orderID)
	}
	return o, storeErr("mark order pending", err)
}

// FailOrder moves a non-terminal order to FAILED.
func (r *OrderRepository) FailOrder(ctx context.Context, orderID string) (*model.PaymentOrder, error) {
	o, err := scanOrder(r.db.QueryRow(ctx,
		`UPDATE payment_orders SET status = 'FAILED', updated_at = now()
		 WHERE id = $1 AND status IN ('CREATED', 'PENDING')
		 RETURNING `+orderColumns,
		orderID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetOrder(ctx, orderID)
	}
	return o, storeErr("fail order", err)
}

// GetOrder returns an order or apperr.ErrNotFound.
func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (*model.PaymentOrder, error) {
	o, err := getOrder(ctx, r.db, orderID, false)
	return o, storeErr("get order", err)
}

// FindOpenOrder returns the subject's open order.
func (r *OrderRepository) FindOpenOrder(ctx context.Context, subject model.SubjectRef) (*model.PaymentOrder, error) {
	o, err := findOpenOrder(ctx, r.db, subject)
	return o, storeErr("find open order", err)
}

// SettleOrder applies a verified provider outcome.
//
// The order row is locked so duplicate callbacks for one order serialise;
// the subject's flag is only ever written with a set-if-false UPDATE, so
// two different orders succeeding for one subject confirm it exactly once.
func (r *OrderRepository) SettleOrder(ctx context.Context, orderID string, outcome model.Outcome) (*model.Settlement, error) {
	var s model.Settlement
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		o, err := getOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			s = model.Settlement{Order: *o, Replayed: true}
			return nil
		}

		status, topic := model.OrderFailed, TopicPaymentFailed
		if outcome == model.OutcomeSuccess {
			status, topic = model.OrderSucceeded, TopicPaymentSucceeded
		}
		o, err = scanOrder(tx.QueryRow(ctx,
			`UPDATE payment_orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+orderColumns,
			o.ID, string(status),
		))
		if err != nil {
			return fmt.Errorf("settle order: %w", err)
		}
		s.Order = *o

		if outcome == model.OutcomeSuccess {
			table := "registrations"
			if o.Subject.Kind == model.SubjectTeam {
				table = "teams"
			}
			tag, err := tx.Exec(ctx,
				`UPDATE `+table+` SET confirmed = true WHERE id = $1 AND NOT confirmed`,
				o.Subject.ID,
			)
			if err != nil {
				return fmt.Errorf("confirm subject: %w", err)
			}
			if tag.RowsAffected() == 1 {
				s.Confirmed = true
				if err := insertOutbox(ctx, tx, ConfirmedTopic(o.Subject.Kind), idKey(o.Subject.ID), o.Subject); err != nil {
					return err
				}
			} else {
				s.Duplicate = true
				topic = TopicPaymentDuplicate
			}
		}
		return insertOutbox(ctx, tx, topic, o.ID, o)
	})
	if err != nil {
		return nil, storeErr("settle order", err)
	}
	return &s, nil
}

// ─── Outbox ──────────────────────────────────────────────────────────────────

// OutboxRepository reads committed domain events for the relay.
type OutboxRepository struct {
	db *pgxpool.Pool
}

// ProcessOutbox claims a batch with FOR UPDATE SKIP LOCKED so several relays
// can run side by side without publishing the same message twice.
func (r *OutboxRepository) ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []model.OutboxMessage) error) (int, error) {
	var processed int
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id::text, topic, entity_key, payload, created_at
			 FROM outbox_messages
			 WHERE processed_at IS NULL
			 ORDER BY seq
			 LIMIT $1
			 FOR UPDATE SKIP LOCKED`,
			limit,
		)
		if err != nil {
			return fmt.Errorf("query outbox: %w", err)
		}

		var (
			messages []model.OutboxMessage
			ids      []string
		)
		for rows.Next() {
			var (
				m       model.OutboxMessage
				id      string
				payload []byte
			)
			if err := rows.Scan(&id, &m.Topic, &m.Key, &payload, &m.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox message: %w", err)
			}
			if m.ID, err = uuid.Parse(id); err != nil {
				rows.Close()
				return fmt.Errorf("parse outbox id: %w", err)
			}
			m.Payload = payload
			messages = append(messages, m)
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("read outbox: %w", err)
		}
		if len(messages) == 0 {
			return nil
		}

		if err := publish(ctx, messages); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE outbox_messages SET processed_at = now() WHERE id::text = ANY($1::text[])`,
			ids,
		); err != nil {
			return fmt.Errorf("mark outbox processed: %w", err)
		}
		processed = len(messages)
		return nil
	})
	if err != nil {
		return 0, storeErr("process outbox", err)
	}
	return processed, nil
}
