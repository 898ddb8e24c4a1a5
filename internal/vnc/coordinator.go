package vnc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/browser"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// debugPortOffset places each session's CDP debug port well clear of the
// configured VNC and WebSocket ranges.
const debugPortOffset = 1000

// coordinator owns the per-session resource chain: virtual display, VNC
// server, WebSocket bridge, sandbox home, browser process, and the
// attached driver. The chain is built front to back and torn down back to
// front; every teardown step is best-effort.
type coordinator struct {
	session *models.VNCSession
	store   interfaces.VNCSessionStorage
	logger  arbor.ILogger

	display *Display
	server  *Server
	bridge  *Bridge
	sandbox *browser.Sandbox
	driver  *browser.ChromeDriver

	viewerURL string
	stopOnce  sync.Once
	stopErr   error
}

// NewCoordinator builds the full session resource chain for an allocated
// session row. On any failure the partial chain is torn down before the
// error returns.
func NewCoordinator(ctx context.Context, cfg common.VNCConfig, session *models.VNCSession, store interfaces.VNCSessionStorage, logger arbor.ILogger) (interfaces.Coordinator, error) {
	c := &coordinator{
		session:   session,
		store:     store,
		logger:    logger,
		viewerURL: fmt.Sprintf("ws://%s:%d/", cfg.Host, session.WSPort),
	}

	display, err := StartDisplay(ctx, session.DisplayNum, cfg.ScreenGeometry, logger)
	if err != nil {
		return nil, err
	}
	c.display = display

	server, err := StartServer(ctx, session.DisplayNum, session.VNCPort, logger)
	if err != nil {
		c.teardown()
		return nil, err
	}
	c.server = server

	bridge, err := StartBridge(session.WSPort, session.VNCPort, c.Touch, logger)
	if err != nil {
		c.teardown()
		return nil, err
	}
	c.bridge = bridge

	sandbox, err := browser.LaunchSandbox(ctx, browser.SandboxConfig{
		Binary:     cfg.BrowserBinary,
		DisplayNum: session.DisplayNum,
		DebugPort:  session.WSPort + debugPortOffset,
		Home:       session.SandboxHome,
		RunAsUser:  cfg.SandboxUser,
		InitialURL: session.JobURL,
	}, logger)
	if err != nil {
		c.teardown()
		return nil, err
	}
	c.sandbox = sandbox

	driver, err := browser.Attach(ctx, sandbox.DebugURL(), logger)
	if err != nil {
		c.teardown()
		return nil, err
	}
	c.driver = driver

	if err := driver.InstallGuards(ctx); err != nil {
		c.teardown()
		return nil, fmt.Errorf("failed to install session guards: %w", err)
	}

	logger.Info().
		Str("session_id", session.ID).
		Str("user_id", session.UserID).
		Int("display", session.DisplayNum).
		Int("vnc_port", session.VNCPort).
		Int("ws_port", session.WSPort).
		Msg("VNC session coordinator started")

	return c, nil
}

func (c *coordinator) Session() *models.VNCSession {
	return c.session
}

func (c *coordinator) Driver() interfaces.BrowserDriver {
	return c.driver
}

func (c *coordinator) ViewerURL() string {
	return c.viewerURL
}

// Touch records activity against the durable row so the idle sweep sees
// this session as live.
func (c *coordinator) Touch() {
	now := time.Now()
	c.session.LastActive = now
	if err := c.store.Touch(context.Background(), c.session.ID, now); err != nil {
		c.logger.Debug().Err(err).Str("session_id", c.session.ID).Msg("Session touch not persisted")
	}
}

// Stop tears down the chain exactly once. The sandbox stop blocks until
// the browser process is dead, so by the time Stop returns the session's
// ports are genuinely free.
func (c *coordinator) Stop() error {
	c.stopOnce.Do(func() {
		c.stopErr = c.teardown()
	})
	return c.stopErr
}

func (c *coordinator) teardown() error {
	var firstErr error
	note := func(step string, err error) {
		if err == nil {
			return
		}
		c.logger.Warn().Err(err).
			Str("session_id", c.session.ID).
			Str("step", step).
			Msg("Teardown step failed - continuing")
		if firstErr == nil {
			firstErr = err
		}
	}

	if c.driver != nil {
		note("driver", c.driver.Close())
		c.driver = nil
	}
	if c.sandbox != nil {
		c.sandbox.Stop() // blocks until the browser is dead, removes the home
		c.sandbox = nil
	}
	if c.bridge != nil {
		note("bridge", c.bridge.Close())
		c.bridge = nil
	}
	if c.server != nil {
		c.server.Stop()
		c.server = nil
	}
	if c.display != nil {
		c.display.Stop()
		c.display = nil
	}

	c.logger.Info().Str("session_id", c.session.ID).Msg("VNC session coordinator stopped")
	return firstErr
}
