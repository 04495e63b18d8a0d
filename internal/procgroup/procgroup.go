// Package procgroup runs shell commands in the background and guarantees that the
// command and every process it spawned are killed when the owning scope ends.
//
// Commands are started in their own process group so the whole tree can be signalled
// at once. Descendants that left the group (setsid, daemonizing ssh helpers) are found
// by walking the process table before the group is killed. On Linux every process of
// the tree also carries a per-run marker in its environment, so descendants that
// outlived the shell and were reparented away are still found. Once the shell has been
// reaped its pid and group id are never signalled again. Termination is best effort:
// processes that already exited are ignored, anything else that refuses to die is
// reported.
package procgroup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

const waitDelay = 2 * time.Second

// MarkerEnv is set to a unique value in the environment of every background command.
const MarkerEnv = "ASTRODEPLOY_PROCESS_TREE"

// Options configures a background process.
type Options struct {
	Dir    string
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
	Log    logr.Logger
}

// Process is a running background command.
type Process struct {
	Command string
	Pid     int

	marker string
	cmd    *exec.Cmd
	log    logr.Logger
	done   chan struct{}

	mu      sync.Mutex
	waitErr error
	killed  bool
}

// Start launches command through the system shell. A launch failure is returned as is;
// nothing is retried.
func Start(command string, opts Options) (*Process, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("background command is empty")
	}
	cmd := shellCommand(command)
	cmd.Dir = opts.Dir
	cmd.Stdin = nil
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	marker := uuid.NewString()
	env := maps.Clone(opts.Env)
	if env == nil {
		env = map[string]string{}
	}
	env[MarkerEnv] = marker
	cmd.Env = MergeEnv(os.Environ(), env)
	setProcessGroup(cmd)
	// Output pipes may be held open by descendants that escaped the kill.
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	p := &Process{
		Command: command,
		Pid:     cmd.Process.Pid,
		marker:  marker,
		cmd:     cmd,
		log:     log.WithValues("pid", cmd.Process.Pid),
		done:    make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	p.log.V(1).Info("background process started", "command", command)
	return p, nil
}

// Run starts command, hands it to fn and terminates the process tree when fn returns,
// fails or panics. The error from fn takes precedence; termination errors are joined to
// it so leaked processes are never silent.
func Run(ctx context.Context, command string, opts Options, fn func(context.Context, *Process) error) (err error) {
	p, err := Start(command, opts)
	if err != nil {
		return err
	}
	defer func() {
		if termErr := p.TerminateTree(); termErr != nil {
			err = errors.Join(err, termErr)
		}
	}()
	return fn(ctx, p)
}

// Done is closed once the shell process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitErr returns the result of waiting on the shell process. Only meaningful after Done
// is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Exited reports whether the shell process has already exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// TerminateTree kills the process, its process group and every descendant it can find.
// It returns once kill signals were issued to all of them and the root process has been
// reaped. Calling it more than once is a no-op.
func (p *Process) TerminateTree() error {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return nil
	}
	p.killed = true
	p.mu.Unlock()

	rootAlive := !p.Exited()
	members, listErr := p.members(rootAlive)
	if listErr != nil {
		p.log.V(1).Info("descendant enumeration incomplete", "error", listErr.Error())
	}
	err := killTree(p.Pid, rootAlive, members)
	killed := len(members)
	// catch anything forked while the tree was being killed
	for round := 0; round < 2 && err == nil; round++ {
		more, _ := marked(MarkerEnv, p.marker, p.Pid)
		if len(more) == 0 {
			break
		}
		killed += len(more)
		err = killTree(p.Pid, false, more)
	}
	if err == nil {
		<-p.done
	}
	p.log.V(1).Info("background process terminated", "descendants", killed, "rootAlive", rootAlive)
	return err
}

// members returns the pids below the root: the live process tree while the root runs,
// plus every process carrying the marker of this command.
func (p *Process) members(rootAlive bool) ([]int, error) {
	seen := map[int]bool{}
	var errs []error
	if rootAlive {
		tree, err := Descendants(p.Pid)
		if err != nil {
			errs = append(errs, err)
		}
		for _, pid := range tree {
			seen[pid] = true
		}
	}
	tagged, err := marked(MarkerEnv, p.marker, p.Pid)
	if err != nil {
		errs = append(errs, err)
	}
	for _, pid := range tagged {
		seen[pid] = true
	}
	out := make([]int, 0, len(seen))
	for pid := range seen {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out, errors.Join(errs...)
}

// MergeEnv overlays overrides on base (KEY=VALUE entries). Keys in overrides replace
// any existing entry with the same name; the result is sorted for stable output.
func MergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		merged[key] = value
	}
	for k, v := range overrides {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
