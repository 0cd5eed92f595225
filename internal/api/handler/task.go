package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/koladefaj/document-intelligence-backend/internal/api/middleware"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/response"
	"github.com/koladefaj/document-intelligence-backend/internal/service"
)

type TaskHandler struct {
	taskService *service.TaskService
}

func NewTaskHandler(taskService *service.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

// Status reports the job state for polling clients.
// GET /api/v1/tasks/:task_id
func (h *TaskHandler) Status(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	resp, err := h.taskService.Status(c.Request.Context(), userID, c.Param("task_id"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, resp)
}
