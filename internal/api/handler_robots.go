package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"

	"robot-fleet-backend/internal/model"
	"robot-fleet-backend/internal/notification"
	"robot-fleet-backend/internal/store"
)

// RobotResponse is the JSON shape of a robot.
type RobotResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Status         string  `json:"status"`
	BatteryPercent int     `json:"battery_percent"`
	Location       *string `json:"location"`
	Mode           string  `json:"mode"`
	ErrorState     *string `json:"error_state"`
}

func newRobotResponse(r *model.Robot) RobotResponse {
	return RobotResponse{
		ID:             r.ID,
		Name:           r.Name,
		Type:           r.Type,
		Status:         r.Status,
		BatteryPercent: r.BatteryPercent,
		Location:       r.Location,
		Mode:           r.Mode,
		ErrorState:     r.ErrorState,
	}
}

// Pointers let binding tell a missing field from an empty string.
type registerRobotRequest struct {
	ID     *string `json:"id" binding:"required"`
	Name   *string `json:"name" binding:"required"`
	Type   *string `json:"type" binding:"required"`
	Status *string `json:"status" binding:"required"`
}

// RegisterRobot handles POST /robots.
func (h *Handler) RegisterRobot(c *gin.Context) {
	var req registerRobotRequest
	if !bindJSON(c, &req) {
		return
	}

	robot, err := h.store.CreateRobot(c.Request.Context(), store.NewRobot{
		ID:     *req.ID,
		Name:   *req.Name,
		Type:   *req.Type,
		Status: *req.Status,
	})
	if errors.Is(err, store.ErrDuplicateID) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": msgDuplicateRobot})
		return
	}
	if err != nil {
		h.abortInternal(c, err)
		return
	}

	c.JSON(http.StatusCreated, newRobotResponse(robot))
}

// ListRobots handles GET /robots.
func (h *Handler) ListRobots(c *gin.Context) {
	robots, err := h.store.ListRobots(c.Request.Context())
	if err != nil {
		h.abortInternal(c, err)
		return
	}

	responses := make([]RobotResponse, 0, len(robots))
	for i := range robots {
		responses = append(responses, newRobotResponse(&robots[i]))
	}
	c.JSON(http.StatusOK, responses)
}

// GetRobot handles GET /robots/:id.
func (h *Handler) GetRobot(c *gin.Context) {
	robot, err := h.store.GetRobot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abortInternal(c, err)
		return
	}
	if robot == nil {
		abortNotFound(c)
		return
	}
	c.JSON(http.StatusOK, newRobotResponse(robot))
}

// patchField records whether a key was present in a PATCH body and whether it was null.
type patchField[T any] struct {
	Value   T
	Present bool
	Null    bool
}

func (f *patchField[T]) UnmarshalJSON(data []byte) error {
	f.Present = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		return nil
	}
	return json.Unmarshal(data, &f.Value)
}

// supplied reports whether the field carries a value to write. An explicit null
// leaves the stored value unchanged, the same as an absent key.
func (f patchField[T]) supplied() bool {
	return f.Present && !f.Null
}

// wholeNumber accepts integers and integral floats such as 42.0.
type wholeNumber int

func (n *wholeNumber) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f != math.Trunc(f) {
		return &json.UnmarshalTypeError{Value: "number " + string(data), Type: reflect.TypeOf(0)}
	}
	// Out-of-range magnitudes only need to stay out of range.
	f = math.Max(math.MinInt32, math.Min(math.MaxInt32, f))
	*n = wholeNumber(f)
	return nil
}

type updateStatusRequest struct {
	BatteryPercent patchField[wholeNumber] `json:"battery_percent"`
	Location       patchField[string]      `json:"location"`
	Mode           patchField[string]      `json:"mode"`
	ErrorState     patchField[string]      `json:"error_state"`
}

func (r *updateStatusRequest) validate() []validationIssue {
	var issues []validationIssue
	if r.BatteryPercent.supplied() && (r.BatteryPercent.Value < 0 || r.BatteryPercent.Value > 100) {
		issues = append(issues, fieldIssue("battery_percent",
			"ensure this value is between 0 and 100", "value_error.number.not_in_range"))
	}
	return issues
}

func (r *updateStatusRequest) toUpdate() store.StatusUpdate {
	var update store.StatusUpdate
	if r.BatteryPercent.supplied() {
		update.BatteryPercent = store.Some(int(r.BatteryPercent.Value))
	}
	if r.Location.supplied() {
		location := r.Location.Value
		update.Location = store.Some(&location)
	}
	if r.Mode.supplied() {
		update.Mode = store.Some(r.Mode.Value)
	}
	if r.ErrorState.supplied() {
		errorState := r.ErrorState.Value
		update.ErrorState = store.Some(&errorState)
	}
	return update
}

// UpdateRobotStatus handles PATCH /robots/:id/status.
func (h *Handler) UpdateRobotStatus(c *gin.Context) {
	var req updateStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	if issues := req.validate(); len(issues) > 0 {
		abortValidation(c, issues...)
		return
	}

	robot, err := h.store.UpdateRobotStatus(c.Request.Context(), c.Param("id"), req.toUpdate())
	if errors.Is(err, store.ErrNotFound) {
		abortNotFound(c)
		return
	}
	if err != nil {
		h.abortInternal(c, err)
		return
	}

	if req.ErrorState.supplied() && req.ErrorState.Value != "" {
		h.dispatchAlert(notification.Alert{
			RobotID: robot.ID,
			Level:   "error_state",
			Message: req.ErrorState.Value,
		})
	}

	c.JSON(http.StatusOK, newRobotResponse(robot))
}
