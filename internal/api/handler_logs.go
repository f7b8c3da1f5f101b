package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"robot-fleet-backend/internal/model"
	"robot-fleet-backend/internal/notification"
	"robot-fleet-backend/internal/store"
)

// RobotLogResponse is the JSON shape of a robot log entry.
type RobotLogResponse struct {
	ID        int64     `json:"id"`
	RobotID   string    `json:"robot_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func newRobotLogResponse(l *model.RobotLog) RobotLogResponse {
	return RobotLogResponse{
		ID:        l.ID,
		RobotID:   l.RobotID,
		Level:     l.Level,
		Message:   l.Message,
		Timestamp: l.Timestamp.UTC(),
	}
}

type createLogRequest struct {
	Level   *string `json:"level" binding:"required"`
	Message *string `json:"message" binding:"required"`
}

// CreateRobotLog handles POST /robots/:id/logs.
func (h *Handler) CreateRobotLog(c *gin.Context) {
	var req createLogRequest
	if !bindJSON(c, &req) {
		return
	}

	entry, err := h.store.CreateRobotLog(c.Request.Context(), c.Param("id"), store.NewRobotLog{
		Level:   *req.Level,
		Message: *req.Message,
	})
	if errors.Is(err, store.ErrNotFound) {
		abortNotFound(c)
		return
	}
	if err != nil {
		h.abortInternal(c, err)
		return
	}

	if h.isAlertLevel(entry.Level) {
		h.dispatchAlert(notification.Alert{
			RobotID: entry.RobotID,
			Level:   entry.Level,
			Message: entry.Message,
		})
	}

	c.JSON(http.StatusCreated, newRobotLogResponse(entry))
}

// ListRobotLogs handles GET /robots/:id/logs.
func (h *Handler) ListRobotLogs(c *gin.Context) {
	logs, err := h.store.GetRobotLogs(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		abortNotFound(c)
		return
	}
	if err != nil {
		h.abortInternal(c, err)
		return
	}

	responses := make([]RobotLogResponse, 0, len(logs))
	for i := range logs {
		responses = append(responses, newRobotLogResponse(&logs[i]))
	}
	c.JSON(http.StatusOK, responses)
}
