package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"robot-fleet-backend/config"
	"robot-fleet-backend/internal/api"
	"robot-fleet-backend/internal/db"
	"robot-fleet-backend/internal/notification"
	"robot-fleet-backend/internal/store"
)

type pushRecord struct {
	endpoint string
	body     []byte
}

// channelSender hands every delivered notification to the test.
type channelSender struct {
	sent chan pushRecord
}

func (s *channelSender) Send(body []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	s.sent <- pushRecord{endpoint: sub.Endpoint, body: body}
	return &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func request(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// TestRobotLifecycle drives a robot through registration, status updates and
// logging, and checks that faults reach subscribed operators.
func TestRobotLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	cfg := &config.Config{
		Server: config.ServerConfig{CacheTTLSeconds: 30},
		Database: config.DatabaseConfig{
			Driver:   config.DriverSQLite,
			DSN:      filepath.Join(t.TempDir(), "fleet.db"),
			LogLevel: "silent",
		},
		Alerts: config.AlertsConfig{
			Enabled:        true,
			PublicKey:      "public",
			PrivateKey:     "private",
			Levels:         []string{"error", "critical"},
			WorkerPoolSize: 2,
			QueueSize:      16,
		},
	}

	gormDB, err := db.Init(&cfg.Database, log)
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	appStore := store.NewGormStore(gormDB)

	pool := notification.NewWorkerPool(cfg.Alerts.WorkerPoolSize, cfg.Alerts.QueueSize, appStore, &webpush.Options{}, log)
	sender := &channelSender{sent: make(chan pushRecord, 8)}
	pool.SetSender(sender)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Wait()
	}()

	router := api.NewRouter(cfg, appStore, pool, log)

	// 1. Register and read back.
	w := request(t, router, http.MethodPost, "/robots", `{"id":"robot-001","name":"Warehouse Bot A1","type":"picker","status":"online"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = request(t, router, http.MethodGet, "/robots/robot-001", "")
	require.Equal(t, http.StatusOK, w.Code)

	// 2. Subscribe an operator to the robot.
	w = request(t, router, http.MethodPut, "/alerts/subscriptions",
		`{"endpoint":"https://push.example/op1","p256dh":"key","auth":"secret","subscribed_robots":["robot-001"]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// 3. A status update is visible immediately despite the cached read above.
	w = request(t, router, http.MethodPatch, "/robots/robot-001/status", `{"battery_percent":15,"location":"Dock 2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = request(t, router, http.MethodGet, "/robots/robot-001", "")
	var robot api.RobotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robot))
	assert.Equal(t, 15, robot.BatteryPercent)
	require.NotNil(t, robot.Location)
	assert.Equal(t, "Dock 2", *robot.Location)
	assert.Equal(t, "idle", robot.Mode)

	// 4. An info log raises nothing; an error log alerts the subscriber.
	w = request(t, router, http.MethodPost, "/robots/robot-001/logs", `{"level":"info","message":"heading to dock"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = request(t, router, http.MethodPost, "/robots/robot-001/logs", `{"level":"error","message":"gripper jammed"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	select {
	case rec := <-sender.sent:
		assert.Equal(t, "https://push.example/op1", rec.endpoint)
		assert.JSONEq(t, `{"robot_id":"robot-001","robot_name":"Warehouse Bot A1","level":"error","message":"gripper jammed"}`, string(rec.body))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for alert delivery")
	}

	// 5. Logs come back newest first.
	w = request(t, router, http.MethodGet, "/robots/robot-001/logs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var logs []api.RobotLogResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, "gripper jammed", logs[0].Message)
	assert.Equal(t, "heading to dock", logs[1].Message)

	// 6. No further alerts were queued by the info log.
	select {
	case rec := <-sender.sent:
		t.Fatalf("unexpected alert: %s", rec.body)
	case <-time.After(100 * time.Millisecond):
	}
}
