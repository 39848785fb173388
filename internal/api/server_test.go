package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/floatbase/internal/contacts"
	"github.com/banshee-data/floatbase/internal/estimator"
	"github.com/banshee-data/floatbase/internal/fusion"
	"github.com/banshee-data/floatbase/internal/kinematics"
	"github.com/banshee-data/floatbase/internal/measurements"
	"github.com/banshee-data/floatbase/internal/monitoring"
	"github.com/banshee-data/floatbase/internal/odometry"
	"github.com/banshee-data/floatbase/internal/testutil"
)

type fakeControl struct {
	mu      sync.Mutex
	last    fusion.Output
	mode    odometry.Mode
	modes   []odometry.Mode
	toggles map[string]bool
	faults  int
	known   map[string]bool
	modeErr error
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		mode:    odometry.Mode6D,
		toggles: map[string]bool{},
		known:   map[string]bool{"LeftFootCenter": true},
	}
}

func (f *fakeControl) State() fusion.State         { return f.last.State }
func (f *fakeControl) Last() fusion.Output         { return f.last }
func (f *fakeControl) OdometryMode() odometry.Mode { return f.mode }

func (f *fakeControl) SetOdometryMode(m odometry.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modeErr != nil {
		return f.modeErr
	}
	f.modes = append(f.modes, m)
	f.mode = m
	return nil
}

func (f *fakeControl) SetSensorEnabled(name string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[name] {
		return fmt.Errorf("%w: %s", contacts.ErrUnknownContact, name)
	}
	f.toggles[name] = enabled
	return nil
}

func (f *fakeControl) InjectFault() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults++
}

type fakeSolver struct {
	calls []string
}

func (s *fakeSolver) Add(surface, sensor string) {
	s.calls = append(s.calls, "add "+surface+" "+sensor)
}
func (s *fakeSolver) Remove(name string) { s.calls = append(s.calls, "remove "+name) }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	ctl := newFakeControl()
	k := kinematics.Zero(kinematics.FlagAll)
	k.Position = r3.Vec{X: 1, Y: 2, Z: 0.8}
	k.LinVel = r3.Vec{X: 0.5}
	ctl.last = fusion.Output{
		Tick:       42,
		Time:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		State:      fusion.StateRecovering,
		Kinematics: k,
		Yaw:        0.25,
		Contacts: []fusion.ContactOutput{{
			Name: "LeftFootCenter", ID: 1, SensorEnabled: true,
			Estimate: estimator.ContactEstimate{
				Rest:   kinematics.Kinematics{Position: r3.Vec{Y: 0.1}},
				Wrench: measurements.Wrench{Force: r3.Vec{Z: 190}},
			},
		}},
		Events: []fusion.Event{{Kind: fusion.EventRecoveryCompleted, Tick: 42}},
	}
	mux := NewServer(ctl, nil).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	want := Status{
		Tick:        42,
		Time:        &ts,
		State:       fusion.StateRecovering,
		Odometry:    odometry.Mode6D,
		Position:    [3]float64{1, 2, 0.8},
		Orientation: [4]float64{1, 0, 0, 0},
		LinVel:      [3]float64{0.5, 0, 0},
		Yaw:         0.25,
		Contacts: []StatusContact{{
			Name: "LeftFootCenter", ID: 1, SensorEnabled: true,
			Rest:  [3]float64{0, 0.1, 0},
			Force: [3]float64{0, 0, 190},
		}},
		Events: []fusion.Event{{Kind: fusion.EventRecoveryCompleted, Tick: 42}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusBeforeFirstTick(t *testing.T) {
	mux := NewServer(newFakeControl(), nil).ServeMux()
	rec := do(t, mux, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "nominal", got["state"])
	assert.Equal(t, []interface{}{}, got["contacts"])
	assert.NotContains(t, got, "time")
}

func TestMethodNotAllowed(t *testing.T) {
	mux := NewServer(newFakeControl(), &fakeSolver{}).ServeMux()
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/status"},
		{http.MethodDelete, "/api/odometry"},
		{http.MethodGet, "/api/contacts/sensor"},
		{http.MethodGet, "/api/contacts/solver"},
		{http.MethodGet, "/api/fault"},
	} {
		rec := do(t, mux, tc.method, tc.path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
		assert.JSONEq(t, `{"error":"method not allowed"}`, rec.Body.String())
	}
}

func TestOdometry(t *testing.T) {
	ctl := newFakeControl()
	mux := NewServer(ctl, nil).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/odometry", "")
	assert.JSONEq(t, `{"mode":"6d"}`, rec.Body.String())

	rec = do(t, mux, http.MethodPost, "/api/odometry", `{"mode":"flat"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"flat"}`, rec.Body.String())
	assert.Equal(t, []odometry.Mode{odometry.ModeFlat}, ctl.modes)

	rec = do(t, mux, http.MethodPost, "/api/odometry", `{"mode":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/odometry", `{"mode":"flat","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctl.modeErr = fmt.Errorf("%w: 6d to none", fusion.ErrOdometrySwitch)
	rec = do(t, mux, http.MethodPost, "/api/odometry", `{"mode":"none"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSetSensorEnabled(t *testing.T) {
	ctl := newFakeControl()
	mux := NewServer(ctl, nil).ServeMux()

	rec := do(t, mux, http.MethodPost, "/api/contacts/sensor", `{"name":"LeftFootCenter","enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"LeftFootCenter","enabled":false}`, rec.Body.String())
	assert.Equal(t, map[string]bool{"LeftFootCenter": false}, ctl.toggles)

	rec = do(t, mux, http.MethodPost, "/api/contacts/sensor", `{"name":"Nope","enabled":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/contacts/sensor", `{"name":"LeftFootCenter"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/contacts/sensor", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSolverEvents(t *testing.T) {
	solver := &fakeSolver{}
	mux := NewServer(newFakeControl(), solver).ServeMux()

	rec := do(t, mux, http.MethodPost, "/api/contacts/solver", `{"kind":"add","surface":"LeftHand","sensor":"LeftHandForceSensor"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, mux, http.MethodPost, "/api/contacts/solver", `{"kind":"remove","surface":"LeftHand"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, mux, http.MethodPost, "/api/contacts/solver", `{"kind":"flip","surface":"LeftHand"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, mux, http.MethodPost, "/api/contacts/solver", `{"kind":"add"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"add LeftHand LeftHandForceSensor", "remove LeftHand"}, solver.calls)

	noSolver := NewServer(newFakeControl(), nil).ServeMux()
	rec = do(t, noSolver, http.MethodPost, "/api/contacts/solver", `{"kind":"add","surface":"LeftHand"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInjectFault(t *testing.T) {
	ctl := newFakeControl()
	mux := NewServer(ctl, nil).ServeMux()

	rec := do(t, mux, http.MethodPost, "/api/fault", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ctl.faults)
}

func TestMetricsEndpoint(t *testing.T) {
	mux := NewServer(newFakeControl(), nil).ServeMux()
	rec := do(t, mux, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "floatbase_ticks_total")
}

func TestLoggingMiddleware(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	before := promtest.ToFloat64(monitoring.HTTPRequestsTotal.WithLabelValues("4xx"))

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	rec := do(t, h, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)

	lines := logs.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[api]")
	assert.Contains(t, lines[0], "GET")
	assert.Contains(t, lines[0], "15B")
	assert.Equal(t, before+1, promtest.ToFloat64(monitoring.HTTPRequestsTotal.WithLabelValues("4xx")))

	do(t, h, http.MethodGet, "/metrics", "")
	assert.Len(t, logs.Lines(), 1, "scrapes are logged only when verbose")
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "100", statusCodeColor(100))
}

func TestDecodeBodyTooLarge(t *testing.T) {
	mux := NewServer(newFakeControl(), nil).ServeMux()
	body := `{"mode":"` + string(bytes.Repeat([]byte("x"), maxBodySize)) + `"}`
	rec := do(t, mux, http.MethodPost, "/api/odometry", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
