//go:build !linux && !windows

package procgroup

import (
	"bufio"
	"bytes"
	"os/exec"
	"strconv"
	"strings"
)

// FollowsDetached reports whether TerminateTree finds descendants that outlived the
// shell and left its process group. ps offers no portable way to read environments.
const FollowsDetached = false

func marked(string, string, int) ([]int, error) { return nil, nil }

// Descendants returns the pids of all processes below pid, read from ps output.
func Descendants(pid int) ([]int, error) {
	out, err := exec.Command("ps", "-A", "-o", "pid=", "-o", "ppid=").Output()
	if err != nil {
		return nil, err
	}
	children := map[int][]int{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		child, err1 := strconv.Atoi(fields[0])
		parent, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		children[parent] = append(children[parent], child)
	}
	return walkTree(pid, children), scanner.Err()
}
