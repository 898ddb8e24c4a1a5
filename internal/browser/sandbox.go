package browser

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
)

// SandboxConfig describes one per-session browser sandbox: an isolated
// HOME directory on an isolated X display, with a dedicated debugging
// port for the driver to attach to.
type SandboxConfig struct {
	Binary      string // chromium/chrome binary path
	DisplayNum  int    // X display the browser renders on
	DebugPort   int    // CDP remote debugging port
	Home        string // per-session HOME; profile data never outlives the session
	RunAsUser   string // low-privilege OS identity; empty runs as the current user
	InitialURL  string // page opened in kiosk mode
	ExtraArgs   []string
	StartupWait time.Duration
}

// Sandbox supervises one kiosk-mode Chromium process. The browser is the
// only interactive surface on its display: no tabs, no address bar, no
// window chrome.
type Sandbox struct {
	cmd    *exec.Cmd
	config SandboxConfig
	logger arbor.ILogger
}

// LaunchSandbox prepares the isolated HOME, starts Chromium in kiosk app
// mode, and waits for the debugging endpoint to come up.
func LaunchSandbox(ctx context.Context, config SandboxConfig, logger arbor.ILogger) (*Sandbox, error) {
	if config.Binary == "" {
		config.Binary = "chromium"
	}
	if config.StartupWait <= 0 {
		config.StartupWait = 20 * time.Second
	}

	if err := os.MkdirAll(config.Home, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create sandbox home: %w", err)
	}

	args := []string{
		"--app=" + config.InitialURL,
		"--kiosk",
		"--remote-debugging-port=" + strconv.Itoa(config.DebugPort),
		"--user-data-dir=" + config.Home,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-session-crashed-bubble",
		"--disable-infobars",
		"--disable-extensions",
		"--disable-background-networking",
		"--disable-sync",
		"--disable-translate",
		"--disable-dev-shm-usage",
		"--window-position=0,0",
	}
	args = append(args, config.ExtraArgs...)

	cmd := exec.Command(config.Binary, args...)
	cmd.Env = append(os.Environ(),
		"DISPLAY=:"+strconv.Itoa(config.DisplayNum),
		"HOME="+config.Home,
	)

	if config.RunAsUser != "" {
		cred, err := lookupCredential(config.RunAsUser)
		if err != nil {
			return nil, err
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
		if err := os.Chown(config.Home, int(cred.Uid), int(cred.Gid)); err != nil {
			return nil, fmt.Errorf("failed to hand sandbox home to %s: %w", config.RunAsUser, err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	sandbox := &Sandbox{cmd: cmd, config: config, logger: logger}

	if err := sandbox.waitForDebugEndpoint(ctx); err != nil {
		sandbox.Stop()
		return nil, err
	}

	logger.Info().
		Int("display", config.DisplayNum).
		Int("debug_port", config.DebugPort).
		Int("pid", cmd.Process.Pid).
		Msg("Sandboxed browser started")

	return sandbox, nil
}

// DebugURL returns the CDP endpoint the driver attaches to.
func (s *Sandbox) DebugURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.config.DebugPort)
}

// Pid returns the browser process id, or 0 when not running.
func (s *Sandbox) Pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Stop terminates the browser, escalating from SIGTERM to SIGKILL, and
// removes the sandbox home so profile data never outlives the session.
func (s *Sandbox) Stop() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			_, _ = s.cmd.Process.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.logger.Warn().Int("pid", s.cmd.Process.Pid).Msg("Browser ignored SIGTERM - killing")
			_ = s.cmd.Process.Kill()
			<-done
		}
	}

	if s.config.Home != "" {
		if err := os.RemoveAll(s.config.Home); err != nil {
			s.logger.Warn().Err(err).Str("home", s.config.Home).Msg("Failed to remove sandbox home")
		}
	}
}

// waitForDebugEndpoint polls the CDP version endpoint until the browser
// accepts connections.
func (s *Sandbox) waitForDebugEndpoint(ctx context.Context) error {
	deadline := time.Now().Add(s.config.StartupWait)
	versionURL := s.DebugURL() + "/json/version"

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("browser debug endpoint did not come up within %s", s.config.StartupWait)
}

func lookupCredential(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("sandbox user '%s' not found: %w", username, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid uid for '%s': %w", username, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid gid for '%s': %w", username, err)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}
