package dispatch

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// killGrace is how long the supervisor waits after SIGTERM before
// escalating to SIGKILL.
const killGrace = 5 * time.Second

// setProcessGroup configures cmd so its child becomes the leader of its
// own process group, letting sigterm/sigkill signal the whole tree the CLI
// may have spawned rather than just the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// sigterm sends SIGTERM to cmd's process group.
func sigterm(cmd *exec.Cmd) {
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
}

// sigkill sends SIGKILL to cmd's process group.
func sigkill(cmd *exec.Cmd) {
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
