package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"design-service/internal/models"
	"design-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (h *Handler) getPayment(c *gin.Context) {
	payment, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// writeCheckout answers a pay request: 200 with the settlement for synchronous
// gateways, 202 with a redirect for redirect gateways
func writeCheckout(c *gin.Context, result *service.CheckoutResult) {
	if result.Settlement != nil {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// verifyPayment is the settlement entry point, reachable both as a browser
// redirect target (GET, query string) and as a server-to-server webhook (POST)
func (h *Handler) verifyPayment(c *gin.Context) {
	params, err := callbackParams(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	gateway := params["gateway"]
	delete(params, "gateway")

	result, err := h.coordinator.Settle(c.Request.Context(), service.CallbackRequest{
		Gateway: gateway,
		Params:  params,
	})
	if err != nil {
		if errors.Is(err, models.ErrNoMatchingAttempt) {
			c.JSON(http.StatusOK, gin.H{
				"success": false,
				"message": "no matching payment attempt",
			})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// enqueueWebhook acknowledges a provider webhook immediately and settles it asynchronously
func (h *Handler) enqueueWebhook(c *gin.Context) {
	params, err := callbackParams(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	msg := &models.CallbackMessage{
		DeliveryID: uuid.New().String(),
		Gateway:    c.Param("gateway"),
		Params:     params,
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.queue.EnqueueCallback(c.Request.Context(), msg); err != nil {
		h.logger.Error("Failed to enqueue webhook", zap.String("gateway", msg.Gateway), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue_unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"delivery_id": msg.DeliveryID})
}

// callbackParams flattens query, form and JSON parameters into one map; body values win
func callbackParams(c *gin.Context) (map[string]string, error) {
	params := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	if c.Request.Method != http.MethodPost || c.Request.ContentLength == 0 {
		return params, nil
	}

	if strings.HasPrefix(c.ContentType(), "application/json") {
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		var body map[string]interface{}
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid callback body: %w", err)
		}
		for k, v := range body {
			if v == nil {
				continue
			}
			params[k] = fmt.Sprint(v)
		}
		return params, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid callback form: %w", err)
	}
	for k, v := range c.Request.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params, nil
}
