package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/omni/beacon-gateway/internal/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() (*Server, *nodes.Registry) {
	registry := nodes.NewRegistry()
	srv := New(registry, nil, nil, nil, nil, nil)
	return srv, registry
}

func newMux(srv *Server) *http.ServeMux {
	mux := http.NewServeMux()
	srv.Routes(mux)
	return mux
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	mux := newMux(srv)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestReadyEndpointDegraded(t *testing.T) {
	registry := nodes.NewRegistry()
	srv := New(registry, nil, nil, nil, nil, func() (bool, string) { return false, "engine down" })
	mux := newMux(srv)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

type fakeSender struct{ sent [][]byte }

func (f *fakeSender) Send(frame []byte) error {
	f.sent = append(f.sent, frame)
	return nil
}

func TestListAndGetNode(t *testing.T) {
	srv, registry := newTestServer()
	mux := newMux(srv)

	nodeID := registry.Register(nodes.Registration{
		DeviceID: "dev-1", Platform: "linux", Commands: []string{"shell.run"},
	}, &fakeSender{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []nodeSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, nodeID, list[0].NodeID)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes/"+nodeID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvokeDeniedCommand(t *testing.T) {
	srv, registry := newTestServer()
	mux := newMux(srv)

	nodeID := registry.Register(nodes.Registration{
		DeviceID: "dev-1", Platform: "linux", Commands: []string{"shell.run"},
	}, &fakeSender{})

	body, _ := json.Marshal(invokeRequest{Command: "not.declared"})
	req := httptest.NewRequest(http.MethodPost, "/nodes/"+nodeID+"/invoke", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInvokeUnknownNode(t *testing.T) {
	srv, _ := newTestServer()
	mux := newMux(srv)

	body, _ := json.Marshal(invokeRequest{Command: "shell.run"})
	req := httptest.NewRequest(http.MethodPost, "/nodes/missing/invoke", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvokeSendsFrameAndTimesOut(t *testing.T) {
	srv, registry := newTestServer()
	mux := newMux(srv)

	sender := &fakeSender{}
	nodeID := registry.Register(nodes.Registration{
		DeviceID: "dev-1", Platform: "linux", Commands: []string{"shell.run"},
	}, sender)

	body, _ := json.Marshal(invokeRequest{Command: "shell.run", TimeoutMs: 50})
	req := httptest.NewRequest(http.MethodPost, "/nodes/"+nodeID+"/invoke", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Len(t, sender.sent, 1)
}

func TestInvokeRoundTripViaHandleResponse(t *testing.T) {
	srv, registry := newTestServer()
	mux := newMux(srv)

	correlationCh := make(chan string, 1)
	sender := &captureSender{onSend: func(frame []byte) {
		var f Frame
		_ = json.Unmarshal(frame, &f)
		correlationCh <- f.CorrelationID
	}}
	nodeID := registry.Register(nodes.Registration{
		DeviceID: "dev-1", Platform: "linux", Commands: []string{"shell.run"},
	}, sender)

	go func() {
		correlationID := <-correlationCh
		registry.HandleResponse(correlationID, nodes.InvokeResult{OK: true})
	}()

	body, _ := json.Marshal(invokeRequest{Command: "shell.run", TimeoutMs: 2000})
	req := httptest.NewRequest(http.MethodPost, "/nodes/"+nodeID+"/invoke", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

type captureSender struct {
	onSend func(frame []byte)
}

func (c *captureSender) Send(frame []byte) error {
	if c.onSend != nil {
		c.onSend(frame)
	}
	return nil
}
