package dispatch

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"
)

func TestWSRegisterThenPing(t *testing.T) {
	srv, registry := newTestServer()
	mux := newMux(srv)
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):]+"/ws/node", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.NoError(t, wsjson.Write(ctx, conn, Frame{Type: TagRegister, DeviceID: "d1", Platform: "linux"}))

	var registered Frame
	require.NoError(t, wsjson.Read(ctx, conn, &registered))
	require.Equal(t, TagRegistered, registered.Type)
	require.NotEmpty(t, registered.NodeID)

	require.Equal(t, 1, registry.Len())

	require.NoError(t, wsjson.Write(ctx, conn, Frame{Type: TagPing}))
	var pong Frame
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	require.Equal(t, TagPing, pong.Type)
}

func TestWSNonRegisterFirstFrameErrors(t *testing.T) {
	srv, _ := newTestServer()
	mux := newMux(srv)
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):]+"/ws/node", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.NoError(t, wsjson.Write(ctx, conn, Frame{Type: TagPing}))

	var resp Frame
	require.NoError(t, wsjson.Read(ctx, conn, &resp))
	require.Equal(t, TagError, resp.Type)
	require.Equal(t, "not_registered", resp.Code)
}

func TestWSInvokeResponseDeliveredToAwaiter(t *testing.T) {
	srv, registry := newTestServer()
	mux := newMux(srv)
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):]+"/ws/node", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.NoError(t, wsjson.Write(ctx, conn, Frame{Type: TagRegister, DeviceID: "d1", Platform: "linux", Commands: []string{"ping"}}))
	var registered Frame
	require.NoError(t, wsjson.Read(ctx, conn, &registered))
	nodeID := registered.NodeID

	correlationID, resultCh, err := registry.PrepareInvoke(nodeID)
	require.NoError(t, err)

	ok := true
	require.NoError(t, wsjson.Write(ctx, conn, Frame{Type: TagInvokeResponse, CorrelationID: correlationID, OK: &ok}))

	select {
	case result := <-resultCh:
		require.True(t, result.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invoke result")
	}
}
