package handlers

import (
	"net/http"
	"strconv"

	"leadflow/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler 管理自动化规则与运行
type AutomationHandler struct {
	rules *services.AutomationRuleService
	runs  *services.AutomationRunService
}

func NewAutomationHandler(rules *services.AutomationRuleService, runs *services.AutomationRunService) *AutomationHandler {
	return &AutomationHandler{rules: rules, runs: runs}
}

// CreateRule 创建自动化规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.AutomationRuleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.rules.CreateRule(c.Request.Context(), tenant, &req, actorID(c))
	if err != nil {
		respondError(c, "Failed to create rule", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// ListRules 获取规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	rules, err := h.rules.ListRules(c.Request.Context(), tenant)
	if err != nil {
		respondError(c, "Failed to list rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// GetRule 获取单条规则
func (h *AutomationHandler) GetRule(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	rule, err := h.rules.GetRule(c.Request.Context(), tenant, c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type toggleRuleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ToggleRule 启用/停用规则
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	var req toggleRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.rules.ToggleRule(c.Request.Context(), tenant, c.Param("id"), *req.Enabled, actorID(c))
	if err != nil {
		respondError(c, "Failed to toggle rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	if err := h.rules.DeleteRule(c.Request.Context(), tenant, c.Param("id"), actorID(c)); err != nil {
		respondError(c, "Failed to delete rule", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

type triggerRunRequest struct {
	MaxActions int `json:"max_actions"`
}

// TriggerRun 触发一次自动化运行，立即返回 run_id，结果需轮询
func (h *AutomationHandler) TriggerRun(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	var req triggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	runID, err := h.runs.TriggerRun(c.Request.Context(), tenant, actorID(c), req.MaxActions)
	if err != nil {
		respondError(c, "Failed to trigger run", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

// GetRun 查询运行详情（含逐动作结果）
func (h *AutomationHandler) GetRun(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	run, actions, err := h.runs.GetRun(c.Request.Context(), tenant, c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "actions": actions})
}

// ListRuns 查询最近运行
func (h *AutomationHandler) ListRuns(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.runs.ListRuns(c.Request.Context(), tenant, limit)
	if err != nil {
		respondError(c, "Failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("/rules", handler.ListRules)
		auto.POST("/rules", handler.CreateRule)
		auto.GET("/rules/:id", handler.GetRule)
		auto.POST("/rules/:id/toggle", handler.ToggleRule)
		auto.DELETE("/rules/:id", handler.DeleteRule)
		auto.POST("/run", handler.TriggerRun)
		auto.GET("/runs", handler.ListRuns)
		auto.GET("/runs/:id", handler.GetRun)
	}
}
