package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"design-service/internal/models"
	"design-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Provider B statuses, both in callbacks and verify responses
const (
	providerBStatusNotPaid         = 1
	providerBStatusAtGateway       = 8
	providerBStatusAwaitingVerify  = "10"
	providerBStatusVerified        = 100
	providerBStatusAlreadyVerified = 101
)

// ProviderBConfig configures the transaction-id gateway
type ProviderBConfig struct {
	BaseURL     string
	APIKey      string
	Sandbox     bool
	CallbackURL string
}

// ProviderB identifies a payment by its own transaction id and echoes our order_id back
type ProviderB struct {
	cfg    ProviderBConfig
	client *Client
}

// NewProviderB creates the transaction-id adapter
func NewProviderB(cfg ProviderBConfig, client *Client) *ProviderB {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ProviderB{cfg: cfg, client: client}
}

func (p *ProviderB) Name() models.Gateway { return models.GatewayProviderB }

// Recognizes a callback carrying id together with track_id or order_id
func (p *ProviderB) Recognizes(params map[string]string) bool {
	if _, ok := params["id"]; !ok {
		return false
	}
	_, track := params["track_id"]
	_, order := params["order_id"]
	return track || order
}

func (p *ProviderB) ExtractCallback(params map[string]string) NormalizedCallback {
	cb := NormalizedCallback{
		ProviderTransactionRef: firstParam(params, "id"),
		ProviderStatusToken:    firstParam(params, "status"),
		PaymentID:              firstParam(params, "order_id"),
	}
	cb.Incomplete = cb.ProviderTransactionRef == "" || cb.ProviderStatusToken == ""
	return cb
}

func (p *ProviderB) headers() map[string]string {
	h := map[string]string{"X-API-KEY": p.cfg.APIKey}
	if p.cfg.Sandbox {
		h["X-SANDBOX"] = "1"
	}
	return h
}

type providerBVerifyResponse struct {
	Status  int         `json:"status"`
	TrackID json.Number `json:"track_id"`
	ID      string      `json:"id"`
	OrderID string      `json:"order_id"`
	Amount  json.Number `json:"amount"`
	Payment struct {
		TrackID json.Number `json:"track_id"`
		Amount  json.Number `json:"amount"`
	} `json:"payment"`
}

type providerBErrorBody struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (p *ProviderB) Verify(ctx context.Context, cb NormalizedCallback, exp Expectation) (VerificationOutcome, error) {
	ctx, span := util.StartSpan(ctx, "ProviderB.Verify")
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewayVerifyLatency.WithLabelValues(string(p.Name())).Observe(time.Since(start).Seconds())
	}()

	req := map[string]string{
		"id":       cb.ProviderTransactionRef,
		"order_id": exp.PaymentID,
	}

	var outcome VerificationOutcome
	err := p.client.Retry(ctx, string(p.Name()), func() error {
		var resp providerBVerifyResponse
		err := p.client.PostJSON(ctx, "providerB.verify", p.cfg.BaseURL+"/v1.1/payment/verify", p.headers(), req, &resp)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			outcome = p.declined(err)
			return nil
		}
		outcome = p.interpret(resp, exp)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return VerificationOutcome{Message: "provider unreachable", FailureKind: FailureUnavailable},
			errors.Wrapf(models.ErrGatewayUnavailable, "providerB verify: %v", err)
	}
	if outcome.FailureKind == FailureDeclined && cb.ProviderStatusToken != providerBStatusAwaitingVerify {
		outcome = VerificationOutcome{
			Message:     fmt.Sprintf("provider reported status %s on redirect", cb.ProviderStatusToken),
			FailureKind: FailureCancelled,
		}
	}
	return outcome, nil
}

func (p *ProviderB) interpret(resp providerBVerifyResponse, exp Expectation) VerificationOutcome {
	switch resp.Status {
	case providerBStatusVerified, providerBStatusAlreadyVerified:
	case providerBStatusNotPaid, providerBStatusAtGateway:
		return VerificationOutcome{
			Message:     fmt.Sprintf("provider reports the payment is not completed (status %d)", resp.Status),
			FailureKind: FailureCancelled,
		}
	default:
		return VerificationOutcome{
			Message:     fmt.Sprintf("provider reported status %d", resp.Status),
			FailureKind: FailureDeclined,
		}
	}

	amount := resp.Amount
	if amount == "" {
		amount = resp.Payment.Amount
	}
	if amount != "" {
		if got, err := amount.Int64(); err == nil && got != exp.Amount {
			return VerificationOutcome{
				Message:     fmt.Sprintf("provider confirmed amount %d, expected %d", got, exp.Amount),
				FailureKind: FailureAmountMismatch,
			}
		}
	}

	ref := resp.TrackID.String()
	if ref == "" {
		ref = resp.Payment.TrackID.String()
	}
	return VerificationOutcome{Success: true, ReferenceCode: ref, Message: "payment verified"}
}

func (p *ProviderB) declined(err error) VerificationOutcome {
	msg := "provider rejected verification"
	var serr *StatusError
	if errors.As(err, &serr) {
		var body providerBErrorBody
		if json.Unmarshal(serr.Body, &body) == nil && body.ErrorCode != 0 {
			msg = fmt.Sprintf("provider error %d: %s", body.ErrorCode, body.ErrorMessage)
		}
	}
	return VerificationOutcome{Message: msg, FailureKind: FailureDeclined}
}

type providerBCreateResponse struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

// Initiate creates the provider transaction for the attempt
func (p *ProviderB) Initiate(ctx context.Context, exp Expectation, description string) (Initiation, error) {
	ctx, span := util.StartSpan(ctx, "ProviderB.Initiate")
	defer span.End()

	req := map[string]interface{}{
		"order_id": exp.PaymentID,
		"amount":   exp.Amount,
		"desc":     description,
		"callback": p.cfg.CallbackURL,
	}

	var resp providerBCreateResponse
	err := p.client.Retry(ctx, string(p.Name()), func() error {
		err := p.client.PostJSON(ctx, "providerB.create", p.cfg.BaseURL+"/v1.1/payment", p.headers(), req, &resp)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		if IsTransient(err) {
			return Initiation{}, errors.Wrapf(models.ErrGatewayUnavailable, "providerB create: %v", err)
		}
		return Initiation{}, errors.Wrap(err, "providerB create")
	}
	if resp.ID == "" || resp.Link == "" {
		return Initiation{}, errors.New("providerB create returned no transaction id")
	}

	return Initiation{ProviderTransactionRef: resp.ID, RedirectURL: resp.Link}, nil
}
