package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"design-service/internal/gateway"
	"design-service/internal/lock"
	"design-service/internal/models"
	"design-service/internal/service"
	"design-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopNotifier struct{}

func (nopNotifier) PublishDesignEvent(context.Context, *models.DesignEvent) error   { return nil }
func (nopNotifier) PublishPaymentEvent(context.Context, *models.PaymentEvent) error { return nil }

type fakeQueue struct {
	mu   sync.Mutex
	msgs []*models.CallbackMessage
}

func (q *fakeQueue) EnqueueCallback(_ context.Context, msg *models.CallbackMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return nil
}

var (
	customer = models.Identity{UserID: "customer-1", Role: models.RoleCustomer}
	designer = models.Identity{UserID: "designer-1", Role: models.RoleDesigner}
	billing  = models.Identity{UserID: "billing-service", Role: models.RoleInternal}
)

func newHandler() *Handler {
	repo := store.NewMemoryStore()
	locker := lock.NewLocal(time.Second)
	notifier := nopNotifier{}
	client := gateway.NewClient(gateway.ClientOptions{Timeout: time.Second})
	registry := gateway.NewRegistry(
		gateway.NewProviderA(gateway.ProviderAConfig{BaseURL: "http://127.0.0.1:1"}, client),
		gateway.NewProviderB(gateway.ProviderBConfig{BaseURL: "http://127.0.0.1:1"}, client),
		gateway.NewInternal(),
	)

	ledger := service.NewPaymentLedger(repo)
	orders := service.NewOrderService(repo, ledger)
	workflow := service.NewDesignWorkflow(repo, orders, ledger, locker, notifier, service.WorkflowOptions{})
	coordinator := service.NewSettlementCoordinator(registry, ledger, workflow, orders, locker, notifier)
	return NewHandler(orders, workflow, ledger, coordinator)
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.SetupRoutes(router)
	return router
}

func do(router *gin.Engine, method, path string, caller models.Identity, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller.UserID != "" {
		req.Header.Set(HeaderUserID, caller.UserID)
		req.Header.Set(HeaderUserRole, string(caller.Role))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

// completedDesign drives a design through review over HTTP
func completedDesign(t *testing.T, router *gin.Engine, price int64) models.SetDesign {
	t.Helper()

	w := do(router, http.MethodPost, "/api/v1/orders", customer, map[string]interface{}{"total_amount": price})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order models.Order
	decode(t, w, &order)

	w = do(router, http.MethodPost, "/api/v1/set-designs", customer, map[string]interface{}{"order_id": order.ID, "price": price})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var design models.SetDesign
	decode(t, w, &design)

	w = do(router, http.MethodPost, "/api/v1/set-designs/"+design.ID+"/assign", designer, map[string]interface{}{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(router, http.MethodPost, "/api/v1/set-designs/"+design.ID+"/submit", designer, map[string]interface{}{"artifact_ref": "s3://v1.pdf"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(router, http.MethodPost, "/api/v1/set-designs/"+design.ID+"/approve", customer, map[string]interface{}{"approved": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &design)
	require.Equal(t, models.DesignCompleted, design.Status)
	return design
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHandler().WithReadinessCheck("postgres", func(context.Context) error { return errors.New("down") })
	router := newRouter(h)

	w := do(router, http.MethodGet, "/health", models.Identity{}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/ready", models.Identity{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "postgres")
}

func TestCreateOrderRequiresCustomer(t *testing.T) {
	router := newRouter(newHandler())

	w := do(router, http.MethodPost, "/api/v1/orders", designer, map[string]interface{}{"total_amount": 100})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, http.MethodPost, "/api/v1/orders", customer, map[string]interface{}{"total_amount": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/api/v1/orders/missing", customer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRejectWithoutComment(t *testing.T) {
	router := newRouter(newHandler())

	w := do(router, http.MethodPost, "/api/v1/orders", customer, map[string]interface{}{"total_amount": 100})
	var order models.Order
	decode(t, w, &order)

	w = do(router, http.MethodPost, "/api/v1/set-designs", customer, map[string]interface{}{"order_id": order.ID, "price": 100})
	var design models.SetDesign
	decode(t, w, &design)
	path := "/api/v1/set-designs/" + design.ID

	do(router, http.MethodPost, path+"/assign", designer, map[string]interface{}{})
	do(router, http.MethodPost, path+"/submit", designer, map[string]interface{}{"artifact_ref": "s3://v1.pdf"})

	w = do(router, http.MethodPost, path+"/approve", customer, map[string]interface{}{"approved": false, "comment": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "reason_required")

	w = do(router, http.MethodPost, path+"/approve", customer, map[string]interface{}{"comment": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, path+"/approve", customer, map[string]interface{}{"approved": false, "comment": "too dark"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &design)
	assert.Equal(t, models.DesignRejected, design.Status)
	assert.Equal(t, "too dark", design.RejectionReason)

	w = do(router, http.MethodPost, path+"/approve", customer, map[string]interface{}{"approved": true})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(router, http.MethodPost, path+"/resubmit", designer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &design)
	assert.Equal(t, 2, design.Version)
}

func TestPayDesignInternally(t *testing.T) {
	router := newRouter(newHandler())
	design := completedDesign(t, router, 50000)
	path := "/api/v1/set-designs/" + design.ID + "/pay"

	w := do(router, http.MethodPost, path, customer, map[string]interface{}{"paymentMethod": "internal", "amount": 50000})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, http.MethodPost, path, billing, map[string]interface{}{"paymentMethod": "internal", "amount": 100})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, path, billing, map[string]interface{}{"paymentMethod": "internal", "amount": 50000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result service.CheckoutResult
	decode(t, w, &result)
	require.NotNil(t, result.Settlement)
	assert.True(t, result.Settlement.Success)
	assert.Equal(t, design.ID, result.Settlement.DesignID)

	w = do(router, http.MethodGet, "/api/v1/payments/"+result.Payment.ID, customer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/v1/set-designs/"+design.ID, customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var paid models.SetDesign
	decode(t, w, &paid)
	assert.True(t, paid.Paid)

	w = do(router, http.MethodPost, path, billing, map[string]interface{}{"paymentMethod": "internal", "amount": 50000})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPayRetryAfterFailedCheckout(t *testing.T) {
	router := newRouter(newHandler())
	design := completedDesign(t, router, 50000)
	path := "/api/v1/set-designs/" + design.ID + "/pay"
	body := map[string]interface{}{"paymentMethod": "providerA", "amount": 50000}

	// the provider is unreachable both times; the first failure must not block the retry
	w := do(router, http.MethodPost, path, customer, body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

	w = do(router, http.MethodPost, path, customer, body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
}

func TestPayWithUnknownGateway(t *testing.T) {
	router := newRouter(newHandler())
	design := completedDesign(t, router, 50000)

	w := do(router, http.MethodPost, "/api/v1/set-designs/"+design.ID+"/pay", customer,
		map[string]interface{}{"paymentMethod": "acme", "amount": 50000})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_gateway")
}

func TestVerifyPayment(t *testing.T) {
	router := newRouter(newHandler())

	// redirect with an authority nobody issued
	w := do(router, http.MethodGet, "/api/v1/payments/verify?Authority=A999&Status=OK", models.Identity{}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, false, body["success"])

	w = do(router, http.MethodGet, "/api/v1/payments/verify?gateway=providerA&Authority=A999", models.Identity{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing_callback_parameters")

	w = do(router, http.MethodGet, "/api/v1/payments/verify?foo=bar", models.Identity{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unrecognized_callback")

	// form-encoded webhook
	form := url.Values{"id": {"tx-1"}, "status": {"10"}, "order_id": {"p-1"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify?gateway=providerB", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	// JSON webhook with numeric values
	w = do(router, http.MethodPost, "/api/v1/payments/verify?gateway=providerB", models.Identity{},
		map[string]interface{}{"id": "tx-1", "status": 10, "order_id": "p-1", "track_id": 12345678901})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookQueue(t *testing.T) {
	router := newRouter(newHandler())
	w := do(router, http.MethodPost, "/api/v1/payments/webhook/providerB", models.Identity{}, map[string]interface{}{"id": "tx-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	queue := &fakeQueue{}
	router = newRouter(newHandler().WithCallbackQueue(queue))
	w = do(router, http.MethodPost, "/api/v1/payments/webhook/providerB?order_id=p-1", models.Identity{},
		map[string]interface{}{"id": "tx-1", "status": 10})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, queue.msgs, 1)
	msg := queue.msgs[0]
	assert.Equal(t, "providerB", msg.Gateway)
	assert.Equal(t, "tx-1", msg.Params["id"])
	assert.Equal(t, "10", msg.Params["status"])
	assert.Equal(t, "p-1", msg.Params["order_id"])
	assert.NotEmpty(t, msg.DeliveryID)
}

func TestListEndpoints(t *testing.T) {
	router := newRouter(newHandler())
	design := completedDesign(t, router, 100)

	w := do(router, http.MethodGet, "/api/v1/orders", customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), design.OrderID)

	w = do(router, http.MethodGet, "/api/v1/orders/"+design.OrderID+"/set-designs", customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), design.ID)

	w = do(router, http.MethodGet, "/api/v1/orders?customer_id=customer-9", customer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
