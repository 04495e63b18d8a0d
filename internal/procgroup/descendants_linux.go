package procgroup

import (
	"os"
	"slices"

	"github.com/prometheus/procfs"
)

// FollowsDetached reports whether TerminateTree finds descendants that outlived the
// shell and left its process group.
const FollowsDetached = true

// Descendants returns the pids of all live processes below pid, found through /proc.
// Zombies are skipped; they cannot be signalled and are reaped by their new parent.
func Descendants(pid int) ([]int, error) {
	procs, err := procfs.AllProcs()
	if err != nil {
		return nil, err
	}
	children := make(map[int][]int, len(procs))
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			// raced with exit
			continue
		}
		if stat.State == "Z" {
			continue
		}
		children[stat.PPID] = append(children[stat.PPID], p.PID)
	}
	return walkTree(pid, children), nil
}

// marked returns the live processes whose environment holds key=value, except root and
// ourselves. Processes whose environment cannot be read belong to someone else.
func marked(key, value string, root int) ([]int, error) {
	procs, err := procfs.AllProcs()
	if err != nil {
		return nil, err
	}
	want := key + "=" + value
	self := os.Getpid()
	var out []int
	for _, p := range procs {
		if p.PID == self || p.PID == root {
			continue
		}
		env, err := p.Environ()
		if err != nil || !slices.Contains(env, want) {
			continue
		}
		stat, err := p.Stat()
		if err != nil || stat.State == "Z" {
			continue
		}
		out = append(out, p.PID)
	}
	return out, nil
}
