package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
	"github.com/Shivanand-hulikatti/event-registration/internal/codec"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/payments/signature"
	"github.com/Shivanand-hulikatti/event-registration/internal/payments/stub"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository"
)

const testSecret = "whsec_test"

type fakeProvider struct {
	mu  sync.Mutex
	n   int
	err error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateOrder(_ context.Context, order model.PaymentOrder) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	if p.err != nil {
		return "", "", p.err
	}
	return "ref_" + order.ID, "https://pay.example.com/" + order.ID, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func (p *fakeProvider) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func callback(order *model.PaymentOrder, outcome model.Outcome) model.ProviderCallback {
	return model.ProviderCallback{
		OrderID:     order.ID,
		ProviderRef: order.ProviderRef,
		Outcome:     outcome,
		Signature:   signature.Sign(testSecret, order.ID, order.ProviderRef, outcome, order.Amount),
	}
}

func (f *fixture) settle(t *testing.T, order *model.PaymentOrder, outcome model.Outcome) *model.Settlement {
	t.Helper()
	s, err := f.payments.Reconcile(context.Background(), callback(order, outcome))
	require.NoError(t, err)
	return s
}

func (f *fixture) payTeam(t *testing.T, teamID, amount int64) {
	t.Helper()
	team, err := f.store.GetTeam(context.Background(), teamID)
	require.NoError(t, err)
	leader := model.Identity{ParticipantID: team.LeaderID}
	order, err := f.payments.CreateOrder(context.Background(), leader, model.CreateOrderRequest{
		SubjectKind: model.SubjectTeam, SubjectID: teamID, Amount: amount,
	})
	require.NoError(t, err)
	require.True(t, f.settle(t, order, model.OutcomeSuccess).Confirmed)
}

// The end-to-end scenario: create, join, pay, confirm, then the team is
// closed to new members.
func TestScenario_TeamPaysAndLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e1 := f.event(t, model.EventTeam, 500, nil)

	t1, err := f.regs.CreateTeam(ctx, alice, e1.ID, "Sharks")
	require.NoError(t, err)
	assert.False(t, t1.Confirmed)
	assert.Equal(t, []int64{alice.ParticipantID}, memberIDs(t1))

	code := f.regs.codec.Encode(codec.KindTeam, t1.ID)
	assert.Equal(t, "T23-00001", code)

	joined, err := f.regs.JoinTeam(ctx, bob, code)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ParticipantID, bob.ParticipantID}, memberIDs(joined))

	o1, err := f.payments.CreateOrder(ctx, alice, model.CreateOrderRequest{SubjectKind: model.SubjectTeam, SubjectID: t1.ID, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, o1.Status, "the provider acknowledged the order")
	assert.Equal(t, int64(500), o1.Amount)

	settled := f.settle(t, o1, model.OutcomeSuccess)
	assert.True(t, settled.Confirmed)

	t1, err = f.store.GetTeam(ctx, t1.ID)
	require.NoError(t, err)
	assert.True(t, t1.Confirmed)

	_, err = f.regs.JoinTeam(ctx, carol, code)
	require.ErrorIs(t, err, apperr.ErrAlreadyConfirmed)
}

func memberIDs(t *model.Team) []int64 {
	ids := make([]int64, 0, len(t.Members))
	for _, m := range t.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestCreateOrder_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, model.EventTeam, 500, nil)
	team, err := f.regs.CreateTeam(ctx, alice, e.ID, "Sharks")
	require.NoError(t, err)
	_, err = f.regs.JoinTeam(ctx, bob, "T23-00001")
	require.NoError(t, err)

	req := model.CreateOrderRequest{SubjectKind: model.SubjectTeam, SubjectID: team.ID, Amount: 500}

	_, err = f.payments.CreateOrder(ctx, bob, req)
	require.ErrorIs(t, err, apperr.ErrForbidden, "only the leader pays")

	wrong := req
	wrong.Amount = 499
	_, err = f.payments.CreateOrder(ctx, alice, wrong)
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)

	missing := req
	missing.SubjectID = 99
	_, err = f.payments.CreateOrder(ctx, alice, missing)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	badKind := req
	badKind.SubjectKind = "EVENT"
	_, err = f.payments.CreateOrder(ctx, alice, badKind)
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)

	first, err := f.payments.CreateOrder(ctx, alice, req)
	require.NoError(t, err)
	again, err := f.payments.CreateOrder(ctx, alice, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "an open order is reused")
	assert.Equal(t, 1, f.provider.calls())

	f.settle(t, first, model.OutcomeSuccess)
	_, err = f.payments.CreateOrder(ctx, alice, req)
	require.ErrorIs(t, err, apperr.ErrAlreadyConfirmed)
}

func TestCreateOrder_FreeTeamHasNothingToPay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, model.EventTeam, 0, nil)
	team, err := f.regs.CreateTeam(ctx, alice, e.ID, "Sharks")
	require.NoError(t, err)

	_, err = f.payments.CreateOrder(ctx, alice, model.CreateOrderRequest{SubjectKind: model.SubjectTeam, SubjectID: team.ID, Amount: 0})
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestCreateOrder_ProviderFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, model.EventSoloSingle, 100, nil)
	reg, err := f.regs.RegisterSolo(ctx, alice, e.ID, "")
	require.NoError(t, err)
	req := model.CreateOrderRequest{SubjectKind: model.SubjectRegistration, SubjectID: reg.ID, Amount: 100}

	f.provider.fail(errors.New("connection refused"))
	_, err = f.payments.CreateOrder(ctx, alice, req)
	require.ErrorIs(t, err, apperr.ErrUnavailable)

	subject := model.SubjectRef{Kind: model.SubjectRegistration, ID: reg.ID}
	_, err = f.store.FindOpenOrder(ctx, subject)
	require.ErrorIs(t, err, apperr.ErrNotFound, "the failed order is closed")

	f.provider.fail(nil)
	order, err := f.payments.CreateOrder(ctx, alice, req)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, order.Status)
}

func TestReconcile_FailureAllowsFreshOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, model.EventSoloSingle, 100, nil)
	reg, err := f.regs.RegisterSolo(ctx, alice, e.ID, "")
	require.NoError(t, err)
	req := model.CreateOrderRequest{SubjectKind: model.SubjectRegistration, SubjectID: reg.ID, Amount: 100}

	o1, err := f.payments.CreateOrder(ctx, alice, req)
	require.NoError(t, err)
	s := f.settle(t, o1, model.OutcomeFailure)
	assert.Equal(t, model.OrderFailed, s.Order.Status)
	assert.False(t, s.Confirmed)

	got, err := f.store.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.False(t, got.Confirmed)

	o2, err := f.payments.CreateOrder(ctx, alice, req)
	require.NoError(t, err)
	assert.NotEqual(t, o1.ID, o2.ID)
	assert.True(t, f.settle(t, o2, model.OutcomeSuccess).Confirmed)
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, model.EventSoloSingle, 100, nil)
	reg, err := f.regs.RegisterSolo(ctx, alice, e.ID, "")
	require.NoError(t, err)
	order, err := f.payments.CreateOrder(ctx, alice, model.CreateOrderRequest{SubjectKind: model.SubjectRegistration, SubjectID: reg.ID, Amount: 100})
	require.NoError(t, err)

	const n = 8
	results := make([]*model.Settlement, n)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.payments.Reconcile(ctx, callback(order, model.OutcomeSuccess))
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	var confirmed, replayed int
	for _, s := range results {
		require.NotNil(t, s)
		if s.Confirmed {
			confirmed++
		}
		if s.Replayed {
			replayed++
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, n-1, replayed)

	// A late failure for the same order changes nothing.
	late := f.settle(t, order, model.OutcomeFailure)
	assert.True(t, late.Replayed)
	got, err := f.store.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.True(t, got.Confirmed)
}

func TestReconcile_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, model.EventSoloSingle, 100, nil)
	reg, err := f.regs.RegisterSolo(ctx, alice, e.ID, "")
	require.NoError(t, err)
	order, err := f.payments.CreateOrder(ctx, alice, model.CreateOrderRequest{SubjectKind: model.SubjectRegistration, SubjectID: reg.ID, Amount: 100})
	require.NoError(t, err)

	forged := callback(order, model.OutcomeFailure)
	forged.Outcome = model.OutcomeSuccess
	_, err = f.payments.Reconcile(ctx, forged)
	require.ErrorIs(t, err, apperr.ErrInvalidSignature)

	otherRef := callback(order, model.OutcomeSuccess)
	otherRef.ProviderRef = "ref_other"
	otherRef.Signature = signature.Sign(testSecret, order.ID, "ref_other", model.OutcomeSuccess, order.Amount)
	_, err = f.payments.Reconcile(ctx, otherRef)
	require.ErrorIs(t, err, apperr.ErrInvalidSignature)

	unsigned := callback(order, model.OutcomeSuccess)
	unsigned.Signature = ""
	_, err = f.payments.Reconcile(ctx, unsigned)
	require.ErrorIs(t, err, apperr.ErrInvalidSignature)

	got, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, got.Status, "rejected callbacks take no state action")
	r, err := f.store.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.False(t, r.Confirmed)
}

func TestReconcile_UnknownOrderAndBadOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.payments.Reconcile(ctx, model.ProviderCallback{OrderID: "nope", Outcome: model.OutcomeSuccess, Signature: "ab"})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.payments.Reconcile(ctx, model.ProviderCallback{OrderID: "nope", Outcome: "MAYBE"})
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestReconcile_DuplicatePaymentAcrossOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, model.EventSoloSingle, 100, nil)
	reg, err := f.regs.RegisterSolo(ctx, alice, e.ID, "")
	require.NoError(t, err)
	req := model.CreateOrderRequest{SubjectKind: model.SubjectRegistration, SubjectID: reg.ID, Amount: 100}

	o1, err := f.payments.CreateOrder(ctx, alice, req)
	require.NoError(t, err)
	// The participant gave up on o1; its failure reached us first.
	f.settle(t, o1, model.OutcomeFailure)
	o2, err := f.payments.CreateOrder(ctx, alice, req)
	require.NoError(t, err)
	assert.True(t, f.settle(t, o2, model.OutcomeSuccess).Confirmed)

	// A success arriving for o1 afterwards is a replay of a terminal order.
	late := f.settle(t, o1, model.OutcomeSuccess)
	assert.True(t, late.Replayed)
	assert.False(t, late.Confirmed)

	var topics []string
	_, err = f.store.ProcessOutbox(ctx, 100, func(_ context.Context, msgs []model.OutboxMessage) error {
		for _, m := range msgs {
			topics = append(topics, m.Topic)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(topics, repository.TopicRegistrationConfirmed), "confirmed exactly once")
}

func count(xs []string, want string) int {
	n := 0
	for _, x := range xs {
		if x == want {
			n++
		}
	}
	return n
}

func TestCompleteCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.event(t, model.EventSoloSingle, 100, nil)
	reg, err := f.regs.RegisterSolo(ctx, alice, e.ID, "")
	require.NoError(t, err)
	order, err := f.payments.CreateOrder(ctx, alice, model.CreateOrderRequest{SubjectKind: model.SubjectRegistration, SubjectID: reg.ID, Amount: 100})
	require.NoError(t, err)

	_, err = f.payments.CompleteCheckout(ctx, order.ID, model.OutcomeSuccess)
	require.ErrorIs(t, err, apperr.ErrNotFound, "hosted providers have no in-process checkout")

	stubbed := NewPaymentService(f.store, stub.New(testSecret, ""), testSecret, nil, nil)
	s, err := stubbed.CompleteCheckout(ctx, order.ID, "success")
	require.NoError(t, err)
	assert.True(t, s.Confirmed)
}
