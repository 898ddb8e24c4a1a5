package vnc

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
)

// Server supervises one x11vnc process exposing a virtual display as a
// remote framebuffer. It binds to localhost only; the WebSocket bridge is
// the sole remote path in.
type Server struct {
	port   int
	cmd    *exec.Cmd
	logger arbor.ILogger
}

// StartServer attaches x11vnc to the given display and waits for its RFB
// port to accept connections.
func StartServer(ctx context.Context, displayNum, port int, logger arbor.ILogger) (*Server, error) {
	cmd := exec.Command("x11vnc",
		"-display", ":"+strconv.Itoa(displayNum),
		"-rfbport", strconv.Itoa(port),
		"-localhost",
		"-forever",
		"-shared",
		"-nopw",
		"-quiet",
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start x11vnc for :%d: %w", displayNum, err)
	}

	s := &Server{port: port, cmd: cmd, logger: logger}
	if err := s.waitForPort(ctx, 10*time.Second); err != nil {
		s.Stop()
		return nil, err
	}

	logger.Debug().Int("display", displayNum).Int("vnc_port", port).Msg("VNC server started")
	return s, nil
}

// Port returns the RFB listen port.
func (s *Server) Port() int {
	return s.port
}

// Stop terminates the x11vnc process.
func (s *Server) Stop() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = s.cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = s.cmd.Process.Kill()
		<-done
	}
	s.logger.Debug().Int("vnc_port", s.port).Msg("VNC server stopped")
}

func (s *Server) waitForPort(ctx context.Context, timeout time.Duration) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port))
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("vnc server on port %d did not come up within %s", s.port, timeout)
}
