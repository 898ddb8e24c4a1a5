package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	Subprotocols:    []string{"binary"},
	CheckOrigin: func(r *http.Request) bool {
		return true // Identity is asserted by the upstream auth layer
	},
}

// CoordinatorLookup resolves a live session by id. Satisfied by the
// fleet; narrowed here so the handler stays testable.
type CoordinatorLookup interface {
	Lookup(sessionID string) (interfaces.Coordinator, bool)
}

// VNCStreamHandler tunnels the viewer's WebSocket to the session's RFB
// bridge. The public server terminates the client connection so the
// per-session bridge ports never need outside exposure.
type VNCStreamHandler struct {
	fleet  CoordinatorLookup
	logger arbor.ILogger
}

// NewVNCStreamHandler creates the stream tunnel handler.
func NewVNCStreamHandler(fleet CoordinatorLookup, logger arbor.ILogger) *VNCStreamHandler {
	return &VNCStreamHandler{fleet: fleet, logger: logger}
}

// StreamHandler handles GET /vnc-stream/{session_id}.
func (h *VNCStreamHandler) StreamHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	coord, live := h.fleet.Lookup(sessionID)
	if !live {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	session := coord.Session()
	if session.UserID != identity.UserID && !identity.Admin {
		WriteError(w, http.StatusForbidden, "session belongs to another user")
		return
	}

	upstream, _, err := websocket.DefaultDialer.Dial(coord.ViewerURL(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Bridge dial failed")
		WriteError(w, http.StatusBadGateway, "session stream unavailable")
		return
	}

	client, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		upstream.Close()
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Viewer upgrade failed")
		return
	}

	h.logger.Info().
		Str("session_id", sessionID).
		Str("user_id", identity.UserID).
		Msg("Viewer stream attached")

	done := make(chan struct{}, 2)
	go pump(client, upstream, done)
	go pump(upstream, client, done)
	<-done

	client.Close()
	upstream.Close()
}

// pump copies frames one way until either side drops.
func pump(src, dst *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
