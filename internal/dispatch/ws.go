package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/omni/beacon-gateway/internal/nodes"
	"github.com/omni/beacon-gateway/internal/telemetry"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// wsSender adapts a websocket connection to nodes.Sender so the
// registry can push invoke frames to a node without knowing about
// the transport.
type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, frame)
}

// HandleNodeWS upgrades the connection and drives the register →
// invoke/invoke_response/ping protocol for one node session.
func (s *Server) HandleNodeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowOrigins,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	var nodeID string

	defer func() {
		if nodeID != "" {
			s.registry.Unregister(nodeID)
			telemetry.WithTraceID(s.logger, ctx).Info("node disconnected", "node_id", nodeID)
			if s.metrics != nil {
				s.metrics.NodesConnected.Add(context.Background(), -1)
			}
		}
	}()

	for {
		var frame Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}

		if nodeID == "" {
			if frame.Type != TagRegister {
				_ = wsjson.Write(ctx, conn, errorFrame("not_registered", "first frame must be register"))
				continue
			}
			sender := &wsSender{conn: conn}
			nodeID = s.registry.Register(nodes.Registration{
				DeviceID:     frame.DeviceID,
				DisplayName:  frame.DisplayName,
				Platform:     frame.Platform,
				DeviceFamily: frame.DeviceFamily,
				Caps:         frame.Caps,
				Commands:     frame.Commands,
			}, sender)
			telemetry.WithTraceID(s.logger, ctx).Info("node registered", "node_id", nodeID, "device_id", frame.DeviceID, "platform", frame.Platform)
			if s.metrics != nil {
				s.metrics.NodesConnected.Add(context.Background(), 1)
			}
			if err := wsjson.Write(ctx, conn, Frame{Type: TagRegistered, NodeID: nodeID}); err != nil {
				return
			}
			continue
		}

		switch frame.Type {
		case TagInvokeResponse:
			s.registry.Touch(nodeID)
			ok := frame.OK != nil && *frame.OK
			s.registry.HandleResponse(frame.CorrelationID, nodes.InvokeResult{
				OK:      ok,
				Payload: frame.Payload,
				Error:   frame.Error,
			})
		case TagPing:
			s.registry.Touch(nodeID)
			_ = wsjson.Write(ctx, conn, Frame{Type: TagPing})
		case TagRegister:
			_ = wsjson.Write(ctx, conn, errorFrame("already_registered", "node already registered on this connection"))
		default:
			_ = wsjson.Write(ctx, conn, errorFrame("unknown_frame", "unrecognized frame type"))
		}
	}
}

// encodeInvokeFrame builds the wire frame sent to a node to request a command.
func encodeInvokeFrame(correlationID, command string, params json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{
		Type:          TagInvoke,
		CorrelationID: correlationID,
		Command:       command,
		Params:        params,
	})
}
