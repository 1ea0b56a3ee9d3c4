package web

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"homie-controller/internal/automation"
	"homie-controller/internal/controller"
	"homie-controller/internal/homie"
)

// fakeTransport validates set requests against the real controller but
// records publishes instead of talking to a broker.
type fakeTransport struct {
	ctrl      *controller.Controller
	connected bool

	mu    sync.Mutex
	calls []controller.PublishRequest
}

func (f *fakeTransport) SetProperty(deviceID, nodeID, propertyID, value string) error {
	req, err := f.ctrl.SetProperty(deviceID, nodeID, propertyID, value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Connected() bool { return f.connected }

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func setupTestServer(t *testing.T, apiKey string) (*Server, *controller.Controller, *fakeTransport) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctrl, err := controller.New("homie", controller.NewBus(logger), logger)
	if err != nil {
		t.Fatal(err)
	}
	transport := &fakeTransport{ctrl: ctrl, connected: true}

	var opts []ServerOption
	if apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}
	srv := NewServer(ctrl, transport, logger, opts...)
	t.Cleanup(srv.Stop)

	return srv, ctrl, transport
}

// seedDevice announces a device with one settable boolean property
// (light/power) and one read-only integer property (light/brightness).
func seedDevice(t *testing.T, ctrl *controller.Controller, id string) {
	t.Helper()
	for _, u := range []struct{ topic, payload string }{
		{"homie/" + id + "/$homie", "4.0.0"},
		{"homie/" + id + "/$name", "Device " + id},
		{"homie/" + id + "/$state", "ready"},
		{"homie/" + id + "/light/$name", "Light"},
		{"homie/" + id + "/light/power/$name", "Power"},
		{"homie/" + id + "/light/power/$datatype", "boolean"},
		{"homie/" + id + "/light/power/$settable", "true"},
		{"homie/" + id + "/light/brightness/$name", "Brightness"},
		{"homie/" + id + "/light/brightness/$datatype", "integer"},
	} {
		if err := ctrl.ApplyUpdate(u.topic, u.payload, true); err != nil {
			t.Fatalf("ApplyUpdate(%s): %v", u.topic, err)
		}
	}
}

func TestAPIListDevices(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedDevice(t, ctrl, "lamp")
	seedDevice(t, ctrl, "bedside")

	req := httptest.NewRequest("GET", "/api/devices", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var devices []homie.Device
	if err := json.NewDecoder(w.Body).Decode(&devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("device count = %d, want 2", len(devices))
	}
	if devices[0].ID != "bedside" || devices[1].ID != "lamp" {
		t.Errorf("order = [%s %s], want [bedside lamp]", devices[0].ID, devices[1].ID)
	}
}

func TestAPIGetDevice(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedDevice(t, ctrl, "lamp")

	req := httptest.NewRequest("GET", "/api/devices/lamp", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var dev homie.Device
	if err := json.NewDecoder(w.Body).Decode(&dev); err != nil {
		t.Fatal(err)
	}
	if dev.ID != "lamp" {
		t.Errorf("id = %q", dev.ID)
	}
	if dev.Property("light", "power") == nil {
		t.Error("expected light/power property in response")
	}
}

func TestAPIGetDeviceNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/devices/ghost", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIDeleteDevice(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedDevice(t, ctrl, "lamp")

	req := httptest.NewRequest("DELETE", "/api/devices/lamp", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	if _, ok := ctrl.Device("lamp"); ok {
		t.Error("expected device to be removed from the model")
	}
}

func TestAPIDeleteDeviceNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("DELETE", "/api/devices/ghost", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPISetProperty(t *testing.T) {
	srv, ctrl, transport := setupTestServer(t, "")
	seedDevice(t, ctrl, "lamp")

	body := `{"value": "true"}`
	req := httptest.NewRequest("POST", "/api/devices/lamp/nodes/light/properties/power/set", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if transport.callCount() != 1 {
		t.Fatalf("publish count = %d, want 1", transport.callCount())
	}
	pub := transport.calls[0]
	if pub.Topic != "homie/lamp/light/power/set" {
		t.Errorf("topic = %q, want homie/lamp/light/power/set", pub.Topic)
	}
	if pub.Payload != "true" {
		t.Errorf("payload = %q, want true", pub.Payload)
	}

	// The model must not change until the device echoes the value.
	dev, _ := ctrl.Device("lamp")
	if got := dev.Property("light", "power").Value; got != "" {
		t.Errorf("local value = %q, want empty", got)
	}
}

func TestAPISetPropertyUnknown(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedDevice(t, ctrl, "lamp")

	body := `{"value": "true"}`
	req := httptest.NewRequest("POST", "/api/devices/lamp/nodes/light/properties/ghost/set", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusNotFound, w.Body.String())
	}
}

func TestAPISetPropertyNotSettable(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedDevice(t, ctrl, "lamp")

	body := `{"value": "50"}`
	req := httptest.NewRequest("POST", "/api/devices/lamp/nodes/light/properties/brightness/set", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusConflict, w.Body.String())
	}
}

func TestAPISetPropertyBrokerDown(t *testing.T) {
	srv, ctrl, transport := setupTestServer(t, "")
	seedDevice(t, ctrl, "lamp")
	transport.connected = false

	body := `{"value": "true"}`
	req := httptest.NewRequest("POST", "/api/devices/lamp/nodes/light/properties/power/set", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestAPISetPropertyBadBody(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedDevice(t, ctrl, "lamp")

	req := httptest.NewRequest("POST", "/api/devices/lamp/nodes/light/properties/power/set", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPIStatus(t *testing.T) {
	srv, ctrl, _ := setupTestServer(t, "")
	seedDevice(t, ctrl, "lamp")

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status["base_topic"] != "homie" {
		t.Errorf("base_topic = %v, want homie", status["base_topic"])
	}
	if status["devices"] != float64(1) {
		t.Errorf("devices = %v, want 1", status["devices"])
	}
	if status["devices_complete"] != float64(1) {
		t.Errorf("devices_complete = %v, want 1", status["devices_complete"])
	}
	if status["broker_connected"] != true {
		t.Errorf("broker_connected = %v, want true", status["broker_connected"])
	}
}

func TestAPIScriptsCRUD(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctrl, err := controller.New("homie", controller.NewBus(logger), logger)
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := automation.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	engine := automation.NewEngine(ctrl, &fakeTransport{ctrl: ctrl}, mgr, logger)
	t.Cleanup(engine.Stop)

	srv := NewServer(ctrl, nil, logger, WithAutomation(engine, mgr))
	t.Cleanup(srv.Stop)

	// Create
	body := `{"name": "Night mode", "lua_code": "homie.log(\"hi\")", "enabled": false}`
	req := httptest.NewRequest("POST", "/api/scripts", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var created automation.Script
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID != "night_mode" {
		t.Errorf("id = %q, want night_mode", created.ID)
	}

	// List
	req = httptest.NewRequest("GET", "/api/scripts", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	var scripts []automation.Script
	if err := json.NewDecoder(w.Body).Decode(&scripts); err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 1 {
		t.Fatalf("script count = %d, want 1", len(scripts))
	}

	// Run
	req = httptest.NewRequest("POST", "/api/scripts/night_mode/run", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", w.Code, w.Body.String())
	}
	var result automation.RunResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if !result.OK || len(result.Logs) != 1 || result.Logs[0] != "hi" {
		t.Errorf("run result = %+v, want OK with [hi]", result)
	}

	// Delete
	req = httptest.NewRequest("DELETE", "/api/scripts/night_mode", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/scripts/night_mode", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAuthMiddlewareHeader(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("correct header key: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddlewareMissing(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/api/devices", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddlewareWrongKey(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMetricsNotAPIKeyProtected(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
}
