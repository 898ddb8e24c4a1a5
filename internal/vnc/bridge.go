package vnc

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

// Bridge tunnels WebSocket viewer connections to the session's local VNC
// server. One bridge per session, on the session's allocated WS port.
// Every accepted connection bumps the activity callback so the idle sweep
// sees watched sessions as live.
type Bridge struct {
	wsPort   int
	vncPort  int
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	onActive func()
	logger   arbor.ILogger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// StartBridge listens on wsPort and relays each WebSocket connection to
// the VNC server on vncPort.
func StartBridge(wsPort, vncPort int, onActive func(), logger arbor.ILogger) (*Bridge, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(wsPort)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on websocket port %d: %w", wsPort, err)
	}

	b := &Bridge{
		wsPort:  wsPort,
		vncPort: vncPort,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			// Viewers are served from the application origin; the session id
			// in the path is the capability.
			CheckOrigin: func(*http.Request) bool { return true },
			Subprotocols: []string{"binary"},
		},
		onActive: onActive,
		logger:   logger,
		conns:    make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handle)
	b.server = &http.Server{Handler: mux}
	b.listener = listener

	go func() {
		if err := b.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Int("ws_port", wsPort).Msg("WebSocket bridge exited")
		}
	}()

	logger.Debug().Int("ws_port", wsPort).Int("vnc_port", vncPort).Msg("WebSocket bridge started")
	return b, nil
}

// Port returns the WebSocket listen port.
func (b *Bridge) Port() int {
	return b.wsPort
}

func (b *Bridge) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug().Err(err).Msg("Viewer upgrade failed")
		return
	}
	defer ws.Close()

	vnc, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(b.vncPort)), 5*time.Second)
	if err != nil {
		b.logger.Warn().Err(err).Int("vnc_port", b.vncPort).Msg("Bridge could not reach VNC server")
		return
	}
	defer vnc.Close()

	b.track(ws, true)
	defer b.track(ws, false)
	if b.onActive != nil {
		b.onActive()
	}

	done := make(chan struct{}, 2)

	// viewer -> vnc
	go func() {
		defer func() { done <- struct{}{} }()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if b.onActive != nil {
				b.onActive()
			}
			if _, err := vnc.Write(data); err != nil {
				return
			}
		}
	}()

	// vnc -> viewer
	go func() {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 32*1024)
		for {
			n, err := vnc.Read(buf)
			if err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				return
			}
		}
	}()

	<-done
}

func (b *Bridge) track(ws *websocket.Conn, add bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if add {
		b.conns[ws] = struct{}{}
	} else {
		delete(b.conns, ws)
	}
}

// ViewerCount returns the number of live viewer connections.
func (b *Bridge) ViewerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Close shuts the listener and drops every viewer connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	for ws := range b.conns {
		_ = ws.Close()
	}
	b.conns = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()

	err := b.server.Close()
	b.logger.Debug().Int("ws_port", b.wsPort).Msg("WebSocket bridge stopped")
	return err
}
