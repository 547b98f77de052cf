//go:build windows

package cli

import (
	"errors"
	"os"
	"os/exec"
	"time"
)

// configureProcAttr leaves the default cancel (Process.Kill) in place;
// Windows has no process groups to signal.
func configureProcAttr(_ *exec.Cmd) {}

// GracefulKill kills the running CLI outright; there is no SIGTERM to send.
func (b *BaseAdapter) GracefulKill(_ time.Duration) error {
	cmd := b.activeProcess()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
