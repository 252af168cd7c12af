package api

import (
	"net/http"

	"design-service/internal/models"
	"design-service/internal/service"

	"github.com/gin-gonic/gin"
)

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), identity(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// listOrders lists the caller's orders; admins may pass customer_id
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), identity(c), c.Query("customer_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) listOrderDesigns(c *gin.Context) {
	designs, err := h.workflow.ListForOrder(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"set_designs": designs})
}

func (h *Handler) payOrder(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id := c.Param("id")
	result, err := h.coordinator.PayOrder(c.Request.Context(), identity(c), id,
		models.Gateway(req.PaymentMethod), req.Amount, "order "+id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeCheckout(c, result)
}
