package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
	"github.com/Shivanand-hulikatti/event-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/payments"
	"github.com/Shivanand-hulikatti/event-registration/internal/payments/signature"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository"
)

// PaymentService collects fees: it opens payment orders with the provider
// and applies the provider's signed callbacks to the store.
type PaymentService struct {
	instrumentation
	store    repository.Store
	provider payments.Provider
	secret   string
}

// NewPaymentService constructs a PaymentService. secret is the webhook
// secret shared with the provider.
func NewPaymentService(store repository.Store, provider payments.Provider, secret string, m *metrics.Metrics, log *slog.Logger) *PaymentService {
	return &PaymentService{
		instrumentation: newInstrumentation(m, log),
		store:           store,
		provider:        provider,
		secret:          secret,
	}
}

// CreateOrder returns a payment order for the subject, reusing the open one
// if there is one. The caller must control the subject and pay its fee
// exactly.
func (s *PaymentService) CreateOrder(ctx context.Context, id model.Identity, req model.CreateOrderRequest) (_ *model.PaymentOrder, err error) {
	ctx, done := s.start(ctx, "create_order",
		attribute.String("subject.kind", string(req.SubjectKind)),
		attribute.Int64("subject.id", req.SubjectID),
		attribute.Int64("participant.id", id.ParticipantID))
	defer func() { done(err) }()

	if !req.SubjectKind.Valid() {
		return nil, invalidRequest("subject_kind must be TEAM or REGISTRATION")
	}
	if req.SubjectID <= 0 {
		return nil, invalidRequest("subject_id is required")
	}
	if err := checkIdentity(ctx, s.store, id); err != nil {
		return nil, err
	}

	subject := model.SubjectRef{Kind: req.SubjectKind, ID: req.SubjectID}
	order, created, err := s.store.OpenOrder(ctx, subject, id.ParticipantID, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("open order: %w", err)
	}
	if created {
		s.metrics.OrderCreated()
	}
	if order.Status != model.OrderCreated {
		return order, nil
	}

	// CREATED means the provider has not acknowledged the order yet, either
	// because it is new or because an earlier attempt lost the response.
	ref, url, err := s.provider.CreateOrder(ctx, *order)
	if err != nil {
		if _, ferr := s.store.FailOrder(context.WithoutCancel(ctx), order.ID); ferr != nil {
			s.log.ErrorContext(ctx, "mark order failed", "order_id", order.ID, "error", ferr)
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, "payment provider unavailable, try again",
			fmt.Errorf("%s create order: %w", s.provider.Name(), err))
	}

	order, err = s.store.MarkOrderPending(ctx, order.ID, ref, url)
	if err != nil {
		return nil, fmt.Errorf("mark order pending: %w", err)
	}
	s.log.InfoContext(ctx, "payment order opened",
		"order_id", order.ID, "subject", subject.String(), "amount", order.Amount, "provider", s.provider.Name())
	return order, nil
}

// Reconcile applies a provider callback. The signature is checked against
// the stored order before anything is written; a forged or tampered
// callback changes nothing.
func (s *PaymentService) Reconcile(ctx context.Context, cb model.ProviderCallback) (_ *model.Settlement, err error) {
	ctx, done := s.start(ctx, "reconcile",
		attribute.String("order.id", cb.OrderID), attribute.String("payment.outcome", string(cb.Outcome)))
	result := "ok"
	defer func() {
		if err != nil {
			result = metrics.Result(err)
		}
		s.metrics.Reconciliation(string(cb.Outcome), result)
		done(err)
	}()

	cb.Outcome = model.Outcome(strings.ToUpper(strings.TrimSpace(string(cb.Outcome))))
	if !cb.Outcome.Valid() {
		return nil, invalidRequest("outcome must be SUCCESS or FAILURE")
	}
	if strings.TrimSpace(cb.OrderID) == "" {
		return nil, invalidRequest("order_id is required")
	}

	order, err := s.store.GetOrder(ctx, cb.OrderID)
	if err != nil {
		return nil, err
	}
	if (order.ProviderRef != "" && cb.ProviderRef != order.ProviderRef) ||
		!signature.Verify(s.secret, cb.Signature, order.ID, cb.ProviderRef, cb.Outcome, order.Amount) {
		s.log.WarnContext(ctx, "payment callback rejected: invalid signature",
			"order_id", order.ID, "outcome", cb.Outcome)
		return nil, apperr.ErrInvalidSignature
	}

	settlement, err := s.store.SettleOrder(ctx, order.ID, cb.Outcome)
	if err != nil {
		return nil, fmt.Errorf("settle order: %w", err)
	}

	switch {
	case settlement.Replayed:
		result = "replayed"
		s.log.InfoContext(ctx, "payment callback replayed",
			"order_id", order.ID, "status", settlement.Order.Status)
	case settlement.Duplicate:
		result = "duplicate"
		s.log.WarnContext(ctx, "duplicate payment: subject already confirmed, refund required",
			"order_id", order.ID, "subject", order.Subject.String(), "amount", order.Amount)
	case settlement.Confirmed:
		s.log.InfoContext(ctx, "payment confirmed", "order_id", order.ID, "subject", order.Subject.String())
	default:
		s.log.InfoContext(ctx, "payment failed", "order_id", order.ID, "subject", order.Subject.String())
	}
	return settlement, nil
}

// CompleteCheckout finishes an in-process checkout and reconciles its
// outcome. It is only available when the provider runs checkout itself.
func (s *PaymentService) CompleteCheckout(ctx context.Context, orderID string, outcome model.Outcome) (*model.Settlement, error) {
	checkout, ok := s.provider.(payments.Checkout)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "checkout is hosted by the payment provider")
	}
	outcome = model.Outcome(strings.ToUpper(strings.TrimSpace(string(outcome))))
	if !outcome.Valid() {
		return nil, invalidRequest("outcome must be SUCCESS or FAILURE")
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, checkout.Complete(*order, outcome))
}
