package handlers

import (
	"encoding/json"

	"github.com/flowra/backend/internal/middleware"
	"github.com/flowra/backend/internal/services"
	"github.com/flowra/backend/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

type TaskHandler struct {
	taskService *services.TaskService
}

func NewTaskHandler(tasks *services.TaskService) *TaskHandler {
	return &TaskHandler{taskService: tasks}
}

// Create
// POST /api/tasks/create, POST /api/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	var req services.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	task, err := h.taskService.Create(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}

// Update applies a partial update. Bodies holding at most team_id and status
// are validated by the narrow status schema.
// PATCH /api/tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "요청 본문을 읽을 수 없습니다")
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}

	var req *services.UpdateTaskRequest
	if services.IsStatusOnlyUpdate(keys) {
		var narrow services.StatusUpdateRequest
		if err := decodeAndValidate(body, &narrow); err != nil {
			response.BadRequest(c, bindingMessage(err))
			return
		}
		req = narrow.AsUpdate()
	} else {
		var general services.UpdateTaskRequest
		if err := decodeAndValidate(body, &general); err != nil {
			response.BadRequest(c, bindingMessage(err))
			return
		}
		req = &general
	}

	task, err := h.taskService.Update(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

func decodeAndValidate(body []byte, obj interface{}) error {
	if err := json.Unmarshal(body, obj); err != nil {
		return err
	}
	return binding.Validator.ValidateStruct(obj)
}

// List
// GET /api/tasks
func (h *TaskHandler) List(c *gin.Context) {
	var req services.TaskListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	resp, err := h.taskService.List(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// teamQuery is the team_id query parameter required by single-task routes.
func teamQuery(c *gin.Context) (string, bool) {
	teamID := c.Query("team_id")
	if teamID == "" {
		response.BadRequest(c, "team_id: 필수 항목입니다")
		return "", false
	}
	return teamID, true
}

// Get
// GET /api/tasks/:id?team_id=
func (h *TaskHandler) Get(c *gin.Context) {
	teamID, ok := teamQuery(c)
	if !ok {
		return
	}

	task, err := h.taskService.Get(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), teamID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

// History
// GET /api/tasks/:id/history?team_id=
func (h *TaskHandler) History(c *gin.Context) {
	teamID, ok := teamQuery(c)
	if !ok {
		return
	}

	rows, err := h.taskService.History(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), teamID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rows)
}

// Delete
// DELETE /api/tasks/:id?team_id=
func (h *TaskHandler) Delete(c *gin.Context) {
	teamID, ok := teamQuery(c)
	if !ok {
		return
	}

	if err := h.taskService.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), teamID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
