package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository"
)

func newEvent(t *testing.T, s *Store, typ model.EventType, fee int64, maxTeam *int) *model.Event {
	t.Helper()
	e, err := s.CreateEvent(context.Background(), model.CreateEventRequest{Name: "Hackathon", Type: typ, Fee: fee, MaxTeamSize: maxTeam})
	require.NoError(t, err)
	return e
}

func TestCreateRegistration_SoloSingleOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := newEvent(t, s, model.EventSoloSingle, 100, nil)

	reg, err := s.CreateRegistration(ctx, repository.NewRegistration{EventID: e.ID, ParticipantID: 7})
	require.NoError(t, err)
	assert.False(t, reg.Confirmed)
	assert.Equal(t, int64(100), reg.Fee)

	_, err = s.CreateRegistration(ctx, repository.NewRegistration{EventID: e.ID, ParticipantID: 7})
	require.ErrorIs(t, err, apperr.ErrAlreadyRegistered)
}

func TestCreateRegistration_ConcurrentSingleEntry(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := newEvent(t, s, model.EventSoloSingle, 0, nil)

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateRegistration(ctx, repository.NewRegistration{EventID: e.ID, ParticipantID: 7})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrAlreadyRegistered):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestCreateRegistration_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	multi := newEvent(t, s, model.EventSoloMulti, 50, nil)
	other := newEvent(t, s, model.EventSoloMulti, 50, nil)

	first, err := s.CreateRegistration(ctx, repository.NewRegistration{EventID: multi.ID, ParticipantID: 7, IdempotencyKey: "abc"})
	require.NoError(t, err)
	again, err := s.CreateRegistration(ctx, repository.NewRegistration{EventID: multi.ID, ParticipantID: 7, IdempotencyKey: "abc"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	regs, err := s.ListRegistrations(ctx, multi.ID, 7)
	require.NoError(t, err)
	assert.Len(t, regs, 1)

	_, err = s.CreateRegistration(ctx, repository.NewRegistration{EventID: other.ID, ParticipantID: 7, IdempotencyKey: "abc"})
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestTeams_CreateJoinCapacity(t *testing.T) {
	ctx := context.Background()
	s := New()
	two := 2
	e := newEvent(t, s, model.EventTeam, 500, &two)

	require.NoError(t, s.SaveParticipant(ctx, model.Participant{ID: 1, Name: "Asha"}))
	team, err := s.CreateTeam(ctx, e.ID, 1, "Sharks")
	require.NoError(t, err)
	assert.Equal(t, "Asha", team.Members[0].Name)

	_, err = s.CreateTeam(ctx, e.ID, 1, "Whales")
	require.ErrorIs(t, err, apperr.ErrAlreadyInTeam)

	_, err = s.JoinTeam(ctx, team.ID, 2)
	require.NoError(t, err)
	_, err = s.JoinTeam(ctx, team.ID, 3)
	require.ErrorIs(t, err, apperr.ErrTeamFull)
	_, err = s.JoinTeam(ctx, team.ID, 2)
	require.ErrorIs(t, err, apperr.ErrAlreadyInTeam)

	found, err := s.FindTeam(ctx, e.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, team.ID, found.ID)

	_, err = s.FindTeam(ctx, e.ID, 3)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestJoinTeam_ConcurrentCapacity(t *testing.T) {
	ctx := context.Background()
	s := New()
	four := 4
	e := newEvent(t, s, model.EventTeam, 0, &four)
	team, err := s.CreateTeam(ctx, e.ID, 1, "Sharks")
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
	)
	for pid := int64(2); pid < 22; pid++ {
		wg.Add(1)
		go func(pid int64) {
			defer wg.Done()
			if _, err := s.JoinTeam(ctx, team.ID, pid); err == nil {
				mu.Lock()
				joined++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, apperr.ErrTeamFull)
			}
		}(pid)
	}
	wg.Wait()

	got, err := s.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, joined)
	assert.Len(t, got.Members, 4)
}

func TestSettleOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := newEvent(t, s, model.EventTeam, 500, nil)
	team, err := s.CreateTeam(ctx, e.ID, 1, "Sharks")
	require.NoError(t, err)
	subject := model.SubjectRef{Kind: model.SubjectTeam, ID: team.ID}

	order, created, err := s.OpenOrder(ctx, subject, 1, 500)
	require.NoError(t, err)
	assert.True(t, created)

	reused, created, err := s.OpenOrder(ctx, subject, 1, 500)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, order.ID, reused.ID)

	_, err = s.MarkOrderPending(ctx, order.ID, "ref-1", "http://pay/1")
	require.NoError(t, err)

	settled, err := s.SettleOrder(ctx, order.ID, model.OutcomeSuccess)
	require.NoError(t, err)
	assert.True(t, settled.Confirmed)
	assert.Equal(t, model.OrderSucceeded, settled.Order.Status)

	replay, err := s.SettleOrder(ctx, order.ID, model.OutcomeFailure)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, model.OrderSucceeded, replay.Order.Status)

	_, _, err = s.OpenOrder(ctx, subject, 1, 500)
	require.ErrorIs(t, err, apperr.ErrAlreadyConfirmed)

	_, err = s.JoinTeam(ctx, team.ID, 2)
	require.ErrorIs(t, err, apperr.ErrAlreadyConfirmed)
}

func TestSettleOrder_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := newEvent(t, s, model.EventSoloSingle, 100, nil)
	reg, err := s.CreateRegistration(ctx, repository.NewRegistration{EventID: e.ID, ParticipantID: 7})
	require.NoError(t, err)
	subject := model.SubjectRef{Kind: model.SubjectRegistration, ID: reg.ID}

	first, _, err := s.OpenOrder(ctx, subject, 7, 100)
	require.NoError(t, err)
	_, err = s.FailOrder(ctx, first.ID)
	require.NoError(t, err)
	second, created, err := s.OpenOrder(ctx, subject, 7, 100)
	require.NoError(t, err)
	require.True(t, created)

	// Force the first order back open to simulate a late success from the
	// provider racing a retry.
	s.mu.Lock()
	s.orders[first.ID].Status = model.OrderPending
	s.mu.Unlock()

	a, err := s.SettleOrder(ctx, second.ID, model.OutcomeSuccess)
	require.NoError(t, err)
	b, err := s.SettleOrder(ctx, first.ID, model.OutcomeSuccess)
	require.NoError(t, err)
	assert.True(t, a.Confirmed)
	assert.True(t, b.Duplicate)
	assert.False(t, b.Confirmed)
}

func TestProcessOutbox(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := newEvent(t, s, model.EventSoloMulti, 0, nil)
	_, err := s.CreateRegistration(ctx, repository.NewRegistration{EventID: e.ID, ParticipantID: 7})
	require.NoError(t, err)
	require.Equal(t, 2, s.Pending())

	_, err = s.ProcessOutbox(ctx, 10, func(context.Context, []model.OutboxMessage) error {
		return errors.New("broker down")
	})
	require.Error(t, err)
	assert.Equal(t, 2, s.Pending())

	var topics []string
	n, err := s.ProcessOutbox(ctx, 1, func(_ context.Context, msgs []model.OutboxMessage) error {
		for _, m := range msgs {
			topics = append(topics, m.Topic)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{repository.TopicRegistrationCreated}, topics)
	assert.Equal(t, 1, s.Pending())
}
