package vnc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
)

// Display supervises one Xvfb virtual framebuffer. Each live session owns
// its own display number; the browser is the only client.
type Display struct {
	num    int
	cmd    *exec.Cmd
	logger arbor.ILogger
}

// StartDisplay launches Xvfb on the given display number and waits for
// its X socket to appear.
func StartDisplay(ctx context.Context, num int, geometry string, logger arbor.ILogger) (*Display, error) {
	if geometry == "" {
		geometry = "1280x800x24"
	}

	cmd := exec.Command("Xvfb",
		":"+strconv.Itoa(num),
		"-screen", "0", geometry,
		"-nolisten", "tcp",
		"-noreset",
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start Xvfb on :%d: %w", num, err)
	}

	d := &Display{num: num, cmd: cmd, logger: logger}
	if err := d.waitForSocket(ctx, 10*time.Second); err != nil {
		d.Stop()
		return nil, err
	}

	logger.Debug().Int("display", num).Str("geometry", geometry).Msg("Virtual display started")
	return d, nil
}

// Num returns the X display number.
func (d *Display) Num() int {
	return d.num
}

// Stop terminates the Xvfb process.
func (d *Display) Stop() {
	if d.cmd == nil || d.cmd.Process == nil {
		return
	}
	_ = d.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = d.cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = d.cmd.Process.Kill()
		<-done
	}
	d.logger.Debug().Int("display", d.num).Msg("Virtual display stopped")
}

// waitForSocket polls for the X11 unix socket Xvfb creates on startup.
func (d *Display) waitForSocket(ctx context.Context, timeout time.Duration) error {
	socket := fmt.Sprintf("/tmp/.X11-unix/X%d", d.num)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if _, err := os.Stat(socket); err == nil {
			return nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("display :%d did not come up within %s", d.num, timeout)
}
