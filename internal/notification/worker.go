package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"robot-fleet-backend/internal/model"
	"robot-fleet-backend/internal/store"
)

// Alert describes a robot fault that subscribed operators should hear about.
type Alert struct {
	RobotID string
	Level   string
	Message string
}

// payload is the JSON body delivered to the browser.
type payload struct {
	RobotID   string `json:"robot_id"`
	RobotName string `json:"robot_name"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers for sending alerts.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool with a job queue of queueSize.
func NewWorkerPool(size, queueSize int, s store.Store, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Alert, queueSize),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		log:     log,
	}
}

// SetSender replaces the sender used to deliver notifications.
func (wp *WorkerPool) SetSender(sender NotificationSender) {
	wp.sender = sender
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	wp.log.Debug("alert worker started", zap.Int("worker", id))
	for {
		select {
		case alert := <-wp.jobs:
			wp.sendAlertsForRobot(ctx, alert)
		case <-ctx.Done():
			wp.log.Debug("alert worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues an alert without blocking. It reports false when the queue is full
// and the alert was dropped.
func (wp *WorkerPool) Dispatch(alert Alert) bool {
	select {
	case wp.jobs <- alert:
		return true
	default:
		wp.log.Warn("alert queue full, dropping alert",
			zap.String("robot_id", alert.RobotID),
			zap.String("level", alert.Level),
		)
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Alert {
	return wp.jobs
}

// sendAlertsForRobot fetches subscriptions and sends the alert to each of them.
func (wp *WorkerPool) sendAlertsForRobot(ctx context.Context, alert Alert) {
	subscriptions, err := wp.store.SubscriptionsForRobot(ctx, alert.RobotID)
	if err != nil {
		wp.log.Error("fetching subscriptions failed", zap.String("robot_id", alert.RobotID), zap.Error(err))
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	robotName := alert.RobotID
	robot, err := wp.store.GetRobot(ctx, alert.RobotID)
	if err != nil {
		wp.log.Warn("fetching robot for alert failed", zap.String("robot_id", alert.RobotID), zap.Error(err))
	} else if robot != nil && robot.Name != "" {
		robotName = robot.Name
	}

	body, err := json.Marshal(payload{
		RobotID:   alert.RobotID,
		RobotName: robotName,
		Level:     alert.Level,
		Message:   alert.Message,
	})
	if err != nil {
		wp.log.Error("encoding alert failed", zap.Error(err))
		return
	}

	wp.log.Info("sending alerts",
		zap.String("robot_id", alert.RobotID),
		zap.Int("subscriptions", len(subscriptions)),
	)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, body)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.AlertSubscription, body []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(body, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("sending alert failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error("deleting expired subscription failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
