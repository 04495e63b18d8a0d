//go:build !windows

package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("/bin/sh", "-c", command)
}

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

var signal = unix.Kill

// killTree signals descendants individually. The root and its group are only signalled
// while the root is unreaped: the group id equals the root pid because of Setpgid, and
// after the reap either may belong to an unrelated process.
func killTree(pid int, rootAlive bool, descendants []int) error {
	var errs []error
	if rootAlive {
		if err := signal(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("kill process group %d: %w", pid, err))
		}
	}
	for _, child := range descendants {
		if err := kill(child); err != nil {
			errs = append(errs, err)
		}
	}
	if rootAlive {
		if err := kill(pid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func kill(pid int) error {
	if err := signal(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}
