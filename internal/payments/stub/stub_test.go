package stub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/payments/signature"
)

func TestCreateOrder(t *testing.T) {
	p := New("secret", "http://localhost:8080/")
	ref, url, err := p.CreateOrder(context.Background(), model.PaymentOrder{ID: "0b7a-11"})
	require.NoError(t, err)
	assert.Equal(t, "stub_0b7a11", ref)
	assert.Equal(t, "http://localhost:8080/pay/stub/0b7a-11", url)

	_, url, err = New("secret", "").CreateOrder(context.Background(), model.PaymentOrder{ID: "x"})
	require.NoError(t, err)
	assert.Equal(t, "/pay/stub/x", url)
}

func TestComplete_SignsWithSharedSecret(t *testing.T) {
	p := New("secret", "")
	order := model.PaymentOrder{ID: "o1", ProviderRef: "stub_o1", Amount: 500}

	cb := p.Complete(order, model.OutcomeSuccess)
	assert.Equal(t, "o1", cb.OrderID)
	assert.Equal(t, model.OutcomeSuccess, cb.Outcome)
	assert.True(t, signature.Verify("secret", cb.Signature, "o1", "stub_o1", model.OutcomeSuccess, 500))
	assert.False(t, signature.Verify("other", cb.Signature, "o1", "stub_o1", model.OutcomeSuccess, 500))
}
