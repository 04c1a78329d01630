package handlers

import (
	"net/http"

	"leadflow/internal/services"

	"github.com/gin-gonic/gin"
)

// LeadHandler 线索管理
type LeadHandler struct {
	leads *services.LeadService
	audit *services.AuditService
}

func NewLeadHandler(leads *services.LeadService, audit *services.AuditService) *LeadHandler {
	return &LeadHandler{leads: leads, audit: audit}
}

// CreateLead 创建线索
func (h *LeadHandler) CreateLead(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.LeadCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	lead, err := h.leads.CreateLead(c.Request.Context(), tenant, &req)
	if err != nil {
		respondError(c, "Failed to create lead", err)
		return
	}
	c.JSON(http.StatusCreated, lead)
}

// GetLead 获取线索
func (h *LeadHandler) GetLead(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	lead, err := h.leads.GetLead(c.Request.Context(), tenant, c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get lead", err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

// UpdateLead 更新线索
func (h *LeadHandler) UpdateLead(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.LeadUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	lead, err := h.leads.UpdateLead(c.Request.Context(), tenant, c.Param("id"), &req)
	if err != nil {
		respondError(c, "Failed to update lead", err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

// ListLeads 线索列表
func (h *LeadHandler) ListLeads(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.LeadListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	leads, total, err := h.leads.ListLeads(c.Request.Context(), tenant, &req)
	if err != nil {
		respondError(c, "Failed to list leads", err)
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{Data: leads, Total: total, Page: req.Page, PageSize: req.PageSize})
}

// ListLeadEvents 线索审计事件
func (h *LeadHandler) ListLeadEvents(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	events, err := h.audit.ListEvents(c.Request.Context(), tenant, c.Param("id"), 100)
	if err != nil {
		respondError(c, "Failed to list lead events", err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// RegisterLeadRoutes 注册路由
func RegisterLeadRoutes(r *gin.RouterGroup, handler *LeadHandler) {
	leads := r.Group("/leads")
	{
		leads.GET("", handler.ListLeads)
		leads.POST("", handler.CreateLead)
		leads.GET("/:id", handler.GetLead)
		leads.PUT("/:id", handler.UpdateLead)
		leads.GET("/:id/events", handler.ListLeadEvents)
	}
}
