package handlers

import (
	"net/http"

	"leadflow/internal/services"

	"github.com/gin-gonic/gin"
)

// TenantHandler 租户管理
type TenantHandler struct {
	tenants *services.TenantService
}

func NewTenantHandler(tenants *services.TenantService) *TenantHandler {
	return &TenantHandler{tenants: tenants}
}

type tenantCreateRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateTenant 创建租户
func (h *TenantHandler) CreateTenant(c *gin.Context) {
	var req tenantCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	tenant, err := h.tenants.CreateTenant(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, "Failed to create tenant", err)
		return
	}
	c.JSON(http.StatusCreated, tenant)
}

// GetTenant 获取租户
func (h *TenantHandler) GetTenant(c *gin.Context) {
	tenant, err := h.tenants.GetTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get tenant", err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// ListTenants 租户列表
func (h *TenantHandler) ListTenants(c *gin.Context) {
	tenants, err := h.tenants.ListTenants(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list tenants", err)
		return
	}
	c.JSON(http.StatusOK, tenants)
}

type tenantReadOnlyRequest struct {
	ReadOnly *bool `json:"read_only" binding:"required"`
}

// SetReadOnly 切换租户只读模式
func (h *TenantHandler) SetReadOnly(c *gin.Context) {
	var req tenantReadOnlyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := h.tenants.SetReadOnly(c.Request.Context(), c.Param("id"), *req.ReadOnly); err != nil {
		respondError(c, "Failed to update tenant", err)
		return
	}
	tenant, err := h.tenants.GetTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to update tenant", err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// RegisterTenantRoutes 注册路由
func RegisterTenantRoutes(r *gin.RouterGroup, handler *TenantHandler) {
	tenants := r.Group("/tenants")
	{
		tenants.GET("", handler.ListTenants)
		tenants.POST("", handler.CreateTenant)
		tenants.GET("/:id", handler.GetTenant)
		tenants.POST("/:id/read-only", handler.SetReadOnly)
	}
}
