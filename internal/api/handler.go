package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"design-service/internal/models"
	"design-service/internal/service"
	"design-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Identity headers set by the upstream auth layer
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// CallbackQueue buffers webhook deliveries for the callback worker
type CallbackQueue interface {
	EnqueueCallback(ctx context.Context, msg *models.CallbackMessage) error
}

// ReadinessCheck reports whether a dependency is usable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	orders      *service.OrderService
	workflow    *service.DesignWorkflow
	ledger      *service.PaymentLedger
	coordinator *service.SettlementCoordinator
	queue       CallbackQueue
	checks      map[string]ReadinessCheck
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	workflow *service.DesignWorkflow,
	ledger *service.PaymentLedger,
	coordinator *service.SettlementCoordinator,
) *Handler {
	return &Handler{
		orders:      orders,
		workflow:    workflow,
		ledger:      ledger,
		coordinator: coordinator,
		checks:      make(map[string]ReadinessCheck),
		logger:      util.GetLogger(),
	}
}

// WithCallbackQueue enables the asynchronous webhook route
func (h *Handler) WithCallbackQueue(queue CallbackQueue) *Handler {
	h.queue = queue
	return h
}

// WithReadinessCheck registers a dependency probed by /ready
func (h *Handler) WithReadinessCheck(name string, check ReadinessCheck) *Handler {
	h.checks[name] = check
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/set-designs", h.listOrderDesigns)
		v1.POST("/orders/:id/pay", h.payOrder)

		v1.POST("/set-designs", h.createDesign)
		v1.GET("/set-designs/:id", h.getDesign)
		v1.POST("/set-designs/:id/assign", h.assignDesign)
		v1.POST("/set-designs/:id/submit", h.submitDesign)
		v1.POST("/set-designs/:id/approve", h.approveDesign)
		v1.POST("/set-designs/:id/resubmit", h.resubmitDesign)
		v1.POST("/set-designs/:id/revise", h.reviseDesign)
		v1.POST("/set-designs/:id/pay", h.payDesign)

		v1.GET("/payments/:id", h.getPayment)
		v1.GET("/payments/verify", h.verifyPayment)
		v1.POST("/payments/verify", h.verifyPayment)
		if h.queue != nil {
			v1.POST("/payments/webhook/:gateway", h.enqueueWebhook)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// identity reads the caller asserted by the upstream auth layer
func identity(c *gin.Context) models.Identity {
	return models.Identity{
		UserID: c.GetHeader(HeaderUserID),
		Role:   models.Role(c.GetHeader(HeaderUserRole)),
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
