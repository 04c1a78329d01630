package handlers

import (
	"net/http"

	"leadflow/internal/services"

	"github.com/gin-gonic/gin"
)

// TaskHandler 任务管理
type TaskHandler struct {
	tasks *services.TaskService
}

func NewTaskHandler(tasks *services.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// CreateTask 创建任务
func (h *TaskHandler) CreateTask(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.TaskCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	task, err := h.tasks.CreateTask(c.Request.Context(), tenant, &req)
	if err != nil {
		respondError(c, "Failed to create task", err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// GetTask 获取任务
func (h *TaskHandler) GetTask(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	task, err := h.tasks.GetTask(c.Request.Context(), tenant, c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type taskStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetTaskStatus 更新任务状态
func (h *TaskHandler) SetTaskStatus(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	var req taskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	task, err := h.tasks.SetTaskStatus(c.Request.Context(), tenant, c.Param("id"), req.Status)
	if err != nil {
		respondError(c, "Failed to update task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListTasks 任务列表
func (h *TaskHandler) ListTasks(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.TaskListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	tasks, total, err := h.tasks.ListTasks(c.Request.Context(), tenant, &req)
	if err != nil {
		respondError(c, "Failed to list tasks", err)
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{Data: tasks, Total: total, Page: req.Page, PageSize: req.PageSize})
}

// RegisterTaskRoutes 注册路由
func RegisterTaskRoutes(r *gin.RouterGroup, handler *TaskHandler) {
	tasks := r.Group("/tasks")
	{
		tasks.GET("", handler.ListTasks)
		tasks.POST("", handler.CreateTask)
		tasks.GET("/:id", handler.GetTask)
		tasks.POST("/:id/status", handler.SetTaskStatus)
	}
}
