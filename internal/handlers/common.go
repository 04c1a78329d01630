package handlers

import (
	"errors"
	"net/http"

	"leadflow/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// tenantID extracts the caller's tenant from the request. Authn/authz is an
// external concern; the boundary only needs the scope.
func tenantID(c *gin.Context) string {
	return c.GetHeader("X-Tenant-ID")
}

// actorID extracts the acting user id, empty for anonymous/system calls.
func actorID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, title string, err error) {
	status := http.StatusInternalServerError
	switch {
	case services.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrReadOnly):
		status = http.StatusForbidden
	}
	c.JSON(status, ErrorResponse{Error: title, Message: err.Error()})
}

// requireTenant aborts with 400 when the tenant header is missing.
func requireTenant(c *gin.Context) (string, bool) {
	tenant := tenantID(c)
	if tenant == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing tenant", Message: "X-Tenant-ID header required"})
		return "", false
	}
	return tenant, true
}
