package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"design-service/internal/models"
	"design-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Provider A result codes
const (
	providerACodeOK              = 100
	providerACodeAlreadyVerified = 101
)

// ProviderAConfig configures the authority-token redirect gateway
type ProviderAConfig struct {
	BaseURL     string
	MerchantID  string
	CallbackURL string
}

// ProviderA is a redirect gateway: the customer returns with an Authority token
// and a Status flag, and the authority is confirmed with a verify call.
type ProviderA struct {
	cfg    ProviderAConfig
	client *Client
}

// NewProviderA creates the authority-token adapter
func NewProviderA(cfg ProviderAConfig, client *Client) *ProviderA {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ProviderA{cfg: cfg, client: client}
}

func (p *ProviderA) Name() models.Gateway { return models.GatewayProviderA }

// Recognizes a callback carrying an Authority parameter
func (p *ProviderA) Recognizes(params map[string]string) bool {
	_, ok := params["Authority"]
	if !ok {
		_, ok = params["authority"]
	}
	return ok
}

func (p *ProviderA) ExtractCallback(params map[string]string) NormalizedCallback {
	cb := NormalizedCallback{
		ProviderTransactionRef: firstParam(params, "Authority", "authority"),
		ProviderStatusToken:    strings.ToUpper(firstParam(params, "Status", "status")),
	}
	cb.Incomplete = cb.ProviderTransactionRef == "" || cb.ProviderStatusToken == ""
	return cb
}

type providerAVerifyResponse struct {
	Data struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		RefID   json.Number     `json:"ref_id"`
		CardPan string          `json:"card_pan"`
		Fee     json.RawMessage `json:"fee"`
	} `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type providerAErrorBody struct {
	Errors struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (p *ProviderA) Verify(ctx context.Context, cb NormalizedCallback, exp Expectation) (VerificationOutcome, error) {
	ctx, span := util.StartSpan(ctx, "ProviderA.Verify")
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewayVerifyLatency.WithLabelValues(string(p.Name())).Observe(time.Since(start).Seconds())
	}()

	req := map[string]interface{}{
		"merchant_id": p.cfg.MerchantID,
		"amount":      exp.Amount,
		"authority":   cb.ProviderTransactionRef,
	}

	var outcome VerificationOutcome
	err := p.client.Retry(ctx, string(p.Name()), func() error {
		var resp providerAVerifyResponse
		err := p.client.PostJSON(ctx, "providerA.verify", p.cfg.BaseURL+"/pg/v4/payment/verify.json", nil, req, &resp)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			outcome = p.declined(err)
			return nil
		}

		switch resp.Data.Code {
		case providerACodeOK, providerACodeAlreadyVerified:
			outcome = VerificationOutcome{
				Success:       true,
				ReferenceCode: resp.Data.RefID.String(),
				Message:       "payment verified",
			}
		default:
			outcome = VerificationOutcome{
				Message:     fmt.Sprintf("provider rejected verification with code %d", resp.Data.Code),
				FailureKind: FailureDeclined,
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return VerificationOutcome{Message: "provider unreachable", FailureKind: FailureUnavailable},
			errors.Wrapf(models.ErrGatewayUnavailable, "providerA verify: %v", err)
	}
	if outcome.FailureKind == FailureDeclined && cb.ProviderStatusToken != "OK" {
		// the customer may still complete the authority; a refusal after a
		// non-paid redirect does not close it
		outcome = VerificationOutcome{
			Message:     "payment was cancelled or not completed by the customer",
			FailureKind: FailureCancelled,
		}
	}
	return outcome, nil
}

func (p *ProviderA) declined(err error) VerificationOutcome {
	msg := "provider rejected verification"
	var serr *StatusError
	if errors.As(err, &serr) {
		var body providerAErrorBody
		if json.Unmarshal(serr.Body, &body) == nil && body.Errors.Code != 0 {
			msg = fmt.Sprintf("provider rejected verification with code %d: %s", body.Errors.Code, body.Errors.Message)
		}
	}
	return VerificationOutcome{Message: msg, FailureKind: FailureDeclined}
}

type providerARequestResponse struct {
	Data struct {
		Code      int    `json:"code"`
		Message   string `json:"message"`
		Authority string `json:"authority"`
	} `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

// Initiate registers the payment and returns the StartPay redirect
func (p *ProviderA) Initiate(ctx context.Context, exp Expectation, description string) (Initiation, error) {
	ctx, span := util.StartSpan(ctx, "ProviderA.Initiate")
	defer span.End()

	req := map[string]interface{}{
		"merchant_id":  p.cfg.MerchantID,
		"amount":       exp.Amount,
		"callback_url": p.cfg.CallbackURL,
		"description":  description,
		"metadata":     map[string]string{"order_id": exp.PaymentID},
	}

	var resp providerARequestResponse
	err := p.client.Retry(ctx, string(p.Name()), func() error {
		err := p.client.PostJSON(ctx, "providerA.request", p.cfg.BaseURL+"/pg/v4/payment/request.json", nil, req, &resp)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		if IsTransient(err) {
			return Initiation{}, errors.Wrapf(models.ErrGatewayUnavailable, "providerA request: %v", err)
		}
		return Initiation{}, errors.Wrap(err, "providerA request")
	}
	if resp.Data.Code != providerACodeOK || resp.Data.Authority == "" {
		return Initiation{}, errors.Errorf("providerA request rejected with code %s", strconv.Itoa(resp.Data.Code))
	}

	return Initiation{
		ProviderTransactionRef: resp.Data.Authority,
		RedirectURL:            p.cfg.BaseURL + "/pg/StartPay/" + resp.Data.Authority,
	}, nil
}
