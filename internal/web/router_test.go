package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ps-ux/ipsim/internal/alarms"
	"github.com/ps-ux/ipsim/internal/fanout"
	"github.com/ps-ux/ipsim/internal/sim"
)

func newTestRouter(t *testing.T) (http.Handler, *alarms.Engine) {
	t.Helper()
	engine := sim.NewEngine(sim.DefaultModeParameters(), 1, nil)
	alarmEngine := alarms.NewEngine()
	hub := fanout.NewHub(nil, nil)
	return NewRouter(engine, alarmEngine, hub, nil), alarmEngine
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSimulationStatusEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/simulation/status", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var status sim.EngineStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "OPTIMAL", status.Mode)
	assert.False(t, status.IsRunning)
}

func TestAlarmEndpoints(t *testing.T) {
	router, alarmEngine := newTestRouter(t)

	high := 7.1
	alarmEngine.Register("vib", alarms.Config{
		Name:      "HighVibration",
		Severity:  700,
		HighLimit: &high,
	})
	alarmEngine.Check("vib", 8.0)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/active", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var active []alarms.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	require.Len(t, active, 1)
	assert.Equal(t, "HIGH", active[0].State)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/history", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var history []alarms.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Len(t, history, 1)
}
