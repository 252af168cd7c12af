// Package gateway normalizes payment provider callbacks and confirms them
// server-to-server before anything downstream trusts them.
package gateway

import (
	"context"
	"strings"

	"design-service/internal/models"
)

// FailureKind classifies an unsuccessful verification
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureCancelled means the redirect reported a non-paid status and the
	// provider has not confirmed a payment. The attempt stays open.
	FailureCancelled
	// FailureDeclined is a definitive provider-reported failure
	FailureDeclined
	// FailureAmountMismatch means the provider confirmed a different amount than the attempt
	FailureAmountMismatch
	// FailureUnavailable is a transient network or provider failure that outlived the retry budget
	FailureUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureCancelled:
		return "cancelled"
	case FailureDeclined:
		return "declined"
	case FailureAmountMismatch:
		return "amount_mismatch"
	case FailureUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// NormalizedCallback is a provider callback reduced to the fields settlement needs.
// Incomplete is set instead of failing when required parameters are absent.
type NormalizedCallback struct {
	ProviderTransactionRef string
	ProviderStatusToken    string
	PaymentID              string
	Incomplete             bool
}

// VerificationOutcome is the normalized result of a provider confirmation
type VerificationOutcome struct {
	Success       bool
	ReferenceCode string
	Message       string
	FailureKind   FailureKind
}

// Final reports whether the outcome may settle the attempt. Only a provider
// confirmation or a definitive provider refusal is final; redirect parameters
// alone never are.
func (o VerificationOutcome) Final() bool {
	if o.Success {
		return true
	}
	return o.FailureKind == FailureDeclined || o.FailureKind == FailureAmountMismatch
}

// Expectation carries what the ledger knows about the attempt being verified
type Expectation struct {
	PaymentID string
	Amount    int64
}

// Adapter is implemented once per payment provider.
// ExtractCallback is pure parsing and never fails. Verify returns an error only
// when the provider could not be reached within the retry budget; definitive
// provider answers are reported through the outcome.
type Adapter interface {
	Name() models.Gateway
	ExtractCallback(params map[string]string) NormalizedCallback
	Verify(ctx context.Context, cb NormalizedCallback, exp Expectation) (VerificationOutcome, error)
}

// Recognizer is implemented by adapters whose callbacks can be told apart by shape
type Recognizer interface {
	Recognizes(params map[string]string) bool
}

// Initiation is what a provider hands back when a payment is requested
type Initiation struct {
	ProviderTransactionRef string
	RedirectURL            string
}

// Initiator is implemented by adapters that must register a payment with the provider before redirecting
type Initiator interface {
	Initiate(ctx context.Context, exp Expectation, description string) (Initiation, error)
}

func firstParam(params map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(params[k]); v != "" {
			return v
		}
	}
	return ""
}
