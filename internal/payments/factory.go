package payments

import (
	"fmt"

	"github.com/Shivanand-hulikatti/event-registration/internal/config"
	"github.com/Shivanand-hulikatti/event-registration/internal/payments/stub"
)

// NewProvider returns the provider named by cfg.PaymentProvider.
func NewProvider(cfg config.Config) (Provider, error) {
	switch cfg.PaymentProvider {
	case "stub":
		return stub.New(cfg.PaymentWebhookSecret, cfg.PaymentBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown payment provider: %s", cfg.PaymentProvider)
	}
}
