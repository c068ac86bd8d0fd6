// Package payments defines the payment provider contract.
package payments

import (
	"context"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
)

// Provider is an external payment gateway.
type Provider interface {
	Name() string

	// CreateOrder registers order with the provider and returns the
	// provider's handle for it and the URL of its hosted checkout.
	CreateOrder(ctx context.Context, order model.PaymentOrder) (providerRef, checkoutURL string, err error)
}

// Checkout is implemented by providers whose checkout runs in-process and
// can report an outcome on demand.
type Checkout interface {
	Complete(order model.PaymentOrder, outcome model.Outcome) model.ProviderCallback
}
