package api

import (
	"net/http"

	"design-service/internal/models"
	"design-service/internal/service"

	"github.com/gin-gonic/gin"
)

type createDesignRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Price   int64  `json:"price" binding:"min=0"`
}

type assignRequest struct {
	DesignerID string `json:"designer_id"`
}

type submitRequest struct {
	ArtifactRef string `json:"artifact_ref" binding:"required"`
}

type approveRequest struct {
	Approved *bool  `json:"approved" binding:"required"`
	Comment  string `json:"comment"`
}

type payRequest struct {
	PaymentMethod string `json:"paymentMethod" binding:"required"`
	Amount        int64  `json:"amount" binding:"required,gt=0"`
}

func (h *Handler) createDesign(c *gin.Context) {
	var req createDesignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	design, err := h.workflow.Create(c.Request.Context(), identity(c), req.OrderID, req.Price)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, design)
}

func (h *Handler) getDesign(c *gin.Context) {
	design, err := h.workflow.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, design)
}

func (h *Handler) assignDesign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	caller := identity(c)
	designerID := req.DesignerID
	if designerID == "" && caller.Role == models.RoleDesigner {
		designerID = caller.UserID
	}

	design, err := h.workflow.Assign(c.Request.Context(), caller, c.Param("id"), designerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, design)
}

func (h *Handler) submitDesign(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	design, err := h.workflow.Submit(c.Request.Context(), identity(c), c.Param("id"), req.ArtifactRef)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, design)
}

// approveDesign serves both the approve and the reject button; comment is required iff approved=false
func (h *Handler) approveDesign(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	design, err := h.workflow.Approve(c.Request.Context(), identity(c), c.Param("id"), service.ApproveRequest{
		Approved: *req.Approved,
		Reason:   req.Comment,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, design)
}

func (h *Handler) resubmitDesign(c *gin.Context) {
	design, err := h.workflow.Resubmit(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, design)
}

func (h *Handler) reviseDesign(c *gin.Context) {
	design, err := h.workflow.Revise(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, design)
}

// payDesign begins an attempt and hands it to checkout: internal payments
// settle synchronously, redirect gateways return where to send the customer
func (h *Handler) payDesign(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id := c.Param("id")
	result, err := h.coordinator.PayDesign(c.Request.Context(), identity(c), id,
		models.Gateway(req.PaymentMethod), req.Amount, "set design "+id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeCheckout(c, result)
}
