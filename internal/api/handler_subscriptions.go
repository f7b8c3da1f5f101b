package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"robot-fleet-backend/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint         string   `json:"endpoint" binding:"required"`
	P256DH           string   `json:"p256dh" binding:"required"`
	Auth             string   `json:"auth" binding:"required"`
	SubscribedRobots []string `json:"subscribed_robots"`
}

// PutSubscription handles the creation or replacement of an alert subscription.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if !bindJSON(c, &req) {
		return
	}

	err := h.store.PutSubscription(c.Request.Context(), store.Subscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
		RobotIDs: req.SubscribedRobots,
	})
	if err != nil {
		h.abortInternal(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of an alert subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		h.abortInternal(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam reads a query parameter without URL decoding; push endpoints are
// stored exactly as the browser reported them.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription handles the retrieval of an alert subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		abortValidation(c, validationIssue{Loc: []string{"query", "endpoint"}, Msg: "field required", Type: "value_error.missing"})
		return
	}

	subscription, err := h.store.GetSubscription(c.Request.Context(), raw)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Subscription not found"})
		return
	}
	if err != nil {
		h.abortInternal(c, err)
		return
	}

	robotIDs := make([]string, len(subscription.Robots))
	for i, robot := range subscription.Robots {
		robotIDs[i] = robot.ID
	}

	c.JSON(http.StatusOK, gin.H{"subscribed_robots": robotIDs})
}
