// Package stub is a payment provider that never leaves the process.
//
// CreateOrder hands out a checkout link to POST /pay/stub/{orderID}; that
// route calls Complete, which produces a callback signed exactly the way a
// real provider would sign its webhook.
package stub

import (
	"context"
	"strings"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/payments/signature"
)

type Provider struct {
	secret  string
	baseURL string
}

func New(secret, baseURL string) *Provider {
	return &Provider{secret: secret, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *Provider) Name() string { return "stub" }

func (p *Provider) CreateOrder(_ context.Context, order model.PaymentOrder) (string, string, error) {
	ref := "stub_" + strings.ReplaceAll(order.ID, "-", "")

	url := "/pay/stub/" + order.ID
	if p.baseURL != "" {
		url = p.baseURL + url
	}
	return ref, url, nil
}

// Complete returns the signed callback the stub reports for order.
func (p *Provider) Complete(order model.PaymentOrder, outcome model.Outcome) model.ProviderCallback {
	return model.ProviderCallback{
		OrderID:     order.ID,
		ProviderRef: order.ProviderRef,
		Outcome:     outcome,
		Signature:   signature.Sign(p.secret, order.ID, order.ProviderRef, outcome, order.Amount),
	}
}
