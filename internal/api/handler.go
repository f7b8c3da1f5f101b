package api

import (
	"strings"

	"go.uber.org/zap"

	"robot-fleet-backend/internal/notification"
	"robot-fleet-backend/internal/store"
)

// AlertDispatcher queues alerts for asynchronous delivery.
type AlertDispatcher interface {
	Dispatch(alert notification.Alert) bool
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store          store.Store
	alerts         AlertDispatcher
	alertLevels    map[string]struct{}
	vapidPublicKey string
	log            *zap.Logger
}

// HandlerOptions configures the optional alerting behaviour of a Handler.
type HandlerOptions struct {
	Alerts         AlertDispatcher // nil disables alerts
	AlertLevels    []string
	VAPIDPublicKey string
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, log *zap.Logger, opts HandlerOptions) *Handler {
	levels := make(map[string]struct{}, len(opts.AlertLevels))
	for _, level := range opts.AlertLevels {
		levels[strings.ToLower(level)] = struct{}{}
	}
	return &Handler{
		store:          s,
		alerts:         opts.Alerts,
		alertLevels:    levels,
		vapidPublicKey: opts.VAPIDPublicKey,
		log:            log,
	}
}

func (h *Handler) dispatchAlert(alert notification.Alert) {
	if h.alerts == nil {
		return
	}
	h.alerts.Dispatch(alert)
}

func (h *Handler) isAlertLevel(level string) bool {
	_, ok := h.alertLevels[strings.ToLower(level)]
	return ok
}
