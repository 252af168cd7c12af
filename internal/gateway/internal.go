package gateway

import (
	"context"

	"design-service/internal/models"
)

// Internal settles against the platform's own ledger; there is nothing to call.
// Only the coordinator's internal path reaches it, and that path checks the caller.
type Internal struct{}

// NewInternal creates the internal ledger adapter
func NewInternal() *Internal {
	return &Internal{}
}

func (i *Internal) Name() models.Gateway { return models.GatewayInternal }

func (i *Internal) ExtractCallback(params map[string]string) NormalizedCallback {
	cb := NormalizedCallback{
		ProviderTransactionRef: firstParam(params, "ref"),
		ProviderStatusToken:    "OK",
		PaymentID:              firstParam(params, "payment_id"),
	}
	cb.Incomplete = cb.ProviderTransactionRef == ""
	return cb
}

func (i *Internal) Verify(_ context.Context, cb NormalizedCallback, _ Expectation) (VerificationOutcome, error) {
	return VerificationOutcome{
		Success:       true,
		ReferenceCode: cb.ProviderTransactionRef,
		Message:       "settled against internal ledger",
	}, nil
}
