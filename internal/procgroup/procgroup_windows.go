//go:build windows

package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}

func setProcessGroup(cmd *exec.Cmd) {}

// FollowsDetached is false: taskkill /T only reaches a tree whose root is still running.
const FollowsDetached = false

// Descendants is not needed on Windows; taskkill /T walks the tree itself.
func Descendants(pid int) ([]int, error) { return nil, nil }

func marked(string, string, int) ([]int, error) { return nil, nil }

func killTree(pid int, rootAlive bool, _ []int) error {
	if !rootAlive {
		return nil
	}
	out, err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).CombinedOutput()
	if err != nil {
		// exit status 128: process not found
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 128 {
			return nil
		}
		return fmt.Errorf("taskkill %d: %w: %s", pid, err, out)
	}
	return nil
}
