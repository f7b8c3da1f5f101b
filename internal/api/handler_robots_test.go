package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"robot-fleet-backend/config"
	"robot-fleet-backend/internal/db"
	"robot-fleet-backend/internal/model"
	"robot-fleet-backend/internal/notification"
	"robot-fleet-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:   config.DriverSQLite,
			DSN:      filepath.Join(t.TempDir(), "fleet.db"),
			LogLevel: "silent",
		},
		Alerts: config.AlertsConfig{Levels: []string{"error"}, PublicKey: "test-public-key"},
	}
}

// recordingDispatcher captures alerts instead of delivering them.
type recordingDispatcher struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (d *recordingDispatcher) Dispatch(alert notification.Alert) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, alert)
	return true
}

func (d *recordingDispatcher) all() []notification.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notification.Alert(nil), d.alerts...)
}

// setupRouter wires the router to a fresh sqlite database.
func setupRouter(t *testing.T) (*gin.Engine, *recordingDispatcher) {
	t.Helper()
	cfg := testConfig(t)
	log := zaptest.NewLogger(t)

	gormDB, err := db.Init(&cfg.Database, log)
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	alerts := &recordingDispatcher{}
	return NewRouter(cfg, store.NewGormStore(gormDB), alerts, log), alerts
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func registerRobot(t *testing.T, r http.Handler, id string) {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/robots", `{"id":"`+id+`","name":"A1","type":"picker","status":"online"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = doJSON(router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRegisterRobot_Defaults(t *testing.T) {
	router, _ := setupRouter(t)

	// Extra fields are ignored; defaults always win on registration.
	w := doJSON(router, http.MethodPost, "/robots",
		`{"id":"robot-001","name":"A1","type":"picker","status":"online","battery_percent":5,"mode":"charging"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{
		"id":"robot-001","name":"A1","type":"picker","status":"online",
		"battery_percent":100,"location":null,"mode":"idle","error_state":null
	}`, w.Body.String())

	w = doJSON(router, http.MethodGet, "/robots/robot-001", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"id":"robot-001","name":"A1","type":"picker","status":"online",
		"battery_percent":100,"location":null,"mode":"idle","error_state":null
	}`, w.Body.String())
}

func TestRegisterRobot_Duplicate(t *testing.T) {
	router, _ := setupRouter(t)
	registerRobot(t, router, "robot-001")

	w := doJSON(router, http.MethodPost, "/robots", `{"id":"robot-001","name":"Other","type":"sorter","status":"offline"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"Robot with this ID already exists"}`, w.Body.String())

	w = doJSON(router, http.MethodGet, "/robots/robot-001", "")
	var robot RobotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robot))
	assert.Equal(t, "A1", robot.Name)
	assert.Equal(t, "picker", robot.Type)
	assert.Equal(t, "online", robot.Status)
}

func TestRegisterRobot_Validation(t *testing.T) {
	router, _ := setupRouter(t)

	testCases := []struct {
		name        string
		body        string
		expectedLoc []string
	}{
		{name: "missing name", body: `{"id":"r","type":"picker","status":"online"}`, expectedLoc: []string{"body", "name"}},
		{name: "null status", body: `{"id":"r","name":"A1","type":"picker","status":null}`, expectedLoc: []string{"body", "status"}},
		{name: "wrong type", body: `{"id":"r","name":5,"type":"picker","status":"online"}`, expectedLoc: []string{"body", "name"}},
		{name: "malformed json", body: `{"id":`, expectedLoc: []string{"body"}},
		{name: "not an object", body: `["robot"]`, expectedLoc: []string{"body"}},
		{name: "empty body", body: "", expectedLoc: []string{"body"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/robots", tc.body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

			var resp struct {
				Detail []validationIssue `json:"detail"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotEmpty(t, resp.Detail)
			assert.Equal(t, tc.expectedLoc, resp.Detail[0].Loc)
		})
	}

	w := doJSON(router, http.MethodGet, "/robots", "")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestRegisterRobot_EmptyStringsAccepted(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodPost, "/robots", `{"id":"robot-001","name":"","type":"","status":""}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestListRobots(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodGet, "/robots", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	registerRobot(t, router, "robot-002")
	registerRobot(t, router, "robot-001")

	w = doJSON(router, http.MethodGet, "/robots", "")
	var robots []RobotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robots))
	require.Len(t, robots, 2)
	assert.Equal(t, "robot-001", robots[0].ID)
	assert.Equal(t, "robot-002", robots[1].ID)
}

func TestGetRobot_Unknown(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodGet, "/robots/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Robot not found"}`, w.Body.String())
}

func TestUpdateRobotStatus_Partial(t *testing.T) {
	router, _ := setupRouter(t)
	registerRobot(t, router, "robot-001")

	w := doJSON(router, http.MethodPatch, "/robots/robot-001/status",
		`{"location":"Aisle 5","mode":"picking","error_state":"motor_overheat"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPatch, "/robots/robot-001/status", `{"battery_percent":42}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"id":"robot-001","name":"A1","type":"picker","status":"online",
		"battery_percent":42,"location":"Aisle 5","mode":"picking","error_state":"motor_overheat"
	}`, w.Body.String())

	// Explicit nulls leave the stored values unchanged.
	w = doJSON(router, http.MethodPatch, "/robots/robot-001/status", `{"location":null,"error_state":null,"battery_percent":null}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"id":"robot-001","name":"A1","type":"picker","status":"online",
		"battery_percent":42,"location":"Aisle 5","mode":"picking","error_state":"motor_overheat"
	}`, w.Body.String())

	// An empty body object changes nothing.
	w = doJSON(router, http.MethodPatch, "/robots/robot-001/status", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateRobotStatus_Unknown(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodPatch, "/robots/ghost/status", `{"mode":"charging"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Robot not found"}`, w.Body.String())

	w = doJSON(router, http.MethodGet, "/robots", "")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestUpdateRobotStatus_BatteryRange(t *testing.T) {
	router, _ := setupRouter(t)
	registerRobot(t, router, "robot-001")

	for _, body := range []string{`{"battery_percent":101}`, `{"battery_percent":-1}`, `{"battery_percent":"full"}`, `{"battery_percent":42.5}`} {
		w := doJSON(router, http.MethodPatch, "/robots/robot-001/status", body)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, body)
		assert.Contains(t, w.Body.String(), `"battery_percent"`, body)
	}

	for _, value := range []string{"0", "100", "42.0", "1e1"} {
		w := doJSON(router, http.MethodPatch, "/robots/robot-001/status", `{"battery_percent":`+value+`}`)
		assert.Equal(t, http.StatusOK, w.Code, value)
	}
}

func TestUpdateRobotStatus_WholeFloatBattery(t *testing.T) {
	router, _ := setupRouter(t)
	registerRobot(t, router, "robot-001")

	w := doJSON(router, http.MethodPatch, "/robots/robot-001/status", `{"battery_percent":42.0}`)
	require.Equal(t, http.StatusOK, w.Code)
	var robot RobotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robot))
	assert.Equal(t, 42, robot.BatteryPercent)

	w = doJSON(router, http.MethodPatch, "/robots/robot-001/status", `{"battery_percent":1e300}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestNullBodyIsRejected(t *testing.T) {
	router, _ := setupRouter(t)
	registerRobot(t, router, "robot-001")

	requests := []struct{ method, path string }{
		{http.MethodPatch, "/robots/robot-001/status"},
		{http.MethodPost, "/robots"},
		{http.MethodPost, "/robots/robot-001/logs"},
	}
	for _, req := range requests {
		for _, body := range []string{"null", " null\n"} {
			w := doJSON(router, req.method, req.path, body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, req.path)
			assert.JSONEq(t, `{"detail":[{"loc":["body"],"msg":"field required","type":"value_error.missing"}]}`, w.Body.String(), req.path)
		}
	}

	w := doJSON(router, http.MethodGet, "/robots/robot-001/logs", "")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestUpdateRobotStatus_ErrorStateRaisesAlert(t *testing.T) {
	router, alerts := setupRouter(t)
	registerRobot(t, router, "robot-001")

	doJSON(router, http.MethodPatch, "/robots/robot-001/status", `{"mode":"charging"}`)
	assert.Empty(t, alerts.all())

	doJSON(router, http.MethodPatch, "/robots/robot-001/status", `{"error_state":"low_battery"}`)
	assert.Equal(t, []notification.Alert{{RobotID: "robot-001", Level: "error_state", Message: "low_battery"}}, alerts.all())
}

func TestExampleScenario(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodPost, "/robots", `{"id":"robot-001","name":"A1","type":"picker","status":"online"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var robot RobotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robot))
	assert.Equal(t, 100, robot.BatteryPercent)

	w = doJSON(router, http.MethodPatch, "/robots/robot-001/status", `{"mode":"charging"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &robot))
	assert.Equal(t, "charging", robot.Mode)
	assert.Equal(t, 100, robot.BatteryPercent)

	w = doJSON(router, http.MethodGet, "/robots/robot-001/logs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestUnknownRouteAndMethod(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(router, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, w.Body.String())

	w = doJSON(router, http.MethodDelete, "/robots/robot-001", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.JSONEq(t, `{"detail":"Method Not Allowed"}`, w.Body.String())
}

// failingStore fails every call the tests reach and counts them.
type failingStore struct {
	store.Store
	mu    sync.Mutex
	calls int
	err   error
}

func (f *failingStore) record() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *failingStore) CreateRobot(context.Context, store.NewRobot) (*model.Robot, error) {
	return nil, f.record()
}

func (f *failingStore) ListRobots(context.Context) ([]model.Robot, error) {
	return nil, f.record()
}

func (f *failingStore) UpdateRobotStatus(context.Context, string, store.StatusUpdate) (*model.Robot, error) {
	return nil, f.record()
}

func (f *failingStore) GetRobotLogs(context.Context, string) ([]model.RobotLog, error) {
	return nil, f.record()
}

func (f *failingStore) Ping(context.Context) error {
	return f.record()
}

func setupFailingRouter(t *testing.T) (*gin.Engine, *failingStore) {
	fs := &failingStore{err: errors.New("pq: connection refused to 10.0.0.7")}
	return NewRouter(testConfig(t), fs, nil, zaptest.NewLogger(t)), fs
}

func TestInternalErrorsDoNotLeak(t *testing.T) {
	router, fs := setupFailingRouter(t)

	requests := []struct{ method, path, body string }{
		{http.MethodPost, "/robots", `{"id":"r","name":"n","type":"t","status":"s"}`},
		{http.MethodGet, "/robots", ""},
		{http.MethodPatch, "/robots/r/status", `{"mode":"idle"}`},
		{http.MethodGet, "/robots/r/logs", ""},
	}
	for _, req := range requests {
		w := doJSON(router, req.method, req.path, req.body)
		assert.Equal(t, http.StatusInternalServerError, w.Code, req.path)
		assert.JSONEq(t, `{"detail":"Internal server error"}`, w.Body.String(), req.path)
	}
	assert.Equal(t, len(requests), fs.calls)

	w := doJSON(router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.7")
}

func TestValidationHappensBeforeStore(t *testing.T) {
	router, fs := setupFailingRouter(t)

	doJSON(router, http.MethodPatch, "/robots/r/status", `{"battery_percent":150}`)
	doJSON(router, http.MethodPost, "/robots", `{"id":"r"}`)
	doJSON(router, http.MethodPost, "/robots/r/logs", `{"level":"info"}`)

	assert.Zero(t, fs.calls)
}

func TestResponseTimestampIsUTC(t *testing.T) {
	local := time.FixedZone("UTC+2", 2*60*60)
	resp := newRobotLogResponse(&model.RobotLog{Timestamp: time.Date(2026, 1, 1, 12, 0, 0, 0, local)})

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"timestamp":"2026-01-01T10:00:00Z"`)
}

func TestRobotCacheInvalidatedByWrites(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.CacheTTLSeconds = 60
	log := zaptest.NewLogger(t)

	gormDB, err := db.Init(&cfg.Database, log)
	require.NoError(t, err)
	router := NewRouter(cfg, store.NewGormStore(gormDB), nil, log)

	w := doJSON(router, http.MethodGet, "/robots", "")
	assert.JSONEq(t, `[]`, w.Body.String())
	w = doJSON(router, http.MethodGet, "/robots", "")
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	registerRobot(t, router, "robot-001")

	w = doJSON(router, http.MethodGet, "/robots", "")
	assert.Empty(t, w.Header().Get("X-Cache"))
	assert.Contains(t, w.Body.String(), "robot-001")
}
