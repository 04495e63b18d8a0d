package layers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/example/astrodeploy/internal/procgroup"
	"github.com/go-logr/logr"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
)

// Runner executes Terraform subcommands.
type Runner interface {
	// Run executes terraform with args in dir, streaming its output.
	Run(ctx context.Context, dir string, args []string, env map[string]string) error
	// Output executes terraform with args in dir and returns its stdout.
	Output(ctx context.Context, dir string, args []string) ([]byte, error)
}

// Terraform runs the terraform binary.
type Terraform struct {
	Binary string
	// ApplyArgs are appended to every apply.
	ApplyArgs []string
	Stdout    io.Writer
	Stderr    io.Writer
	Log       logr.Logger
}

// ParseArgs splits a user supplied argument string the way a shell would.
func ParseArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse --terraform-args: %w", err)
	}
	return args, nil
}

func (t *Terraform) binary() string {
	if b := strings.TrimSpace(t.Binary); b != "" {
		return b
	}
	return "terraform"
}

func (t *Terraform) logger() logr.Logger {
	if t.Log.GetSink() == nil {
		return logr.Discard()
	}
	return t.Log
}

// Run implements Runner. A started terraform is not interrupted through ctx; it runs to
// completion or failure and handles terminal signals itself.
func (t *Terraform) Run(ctx context.Context, dir string, args []string, env map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(args) > 0 && args[0] == "apply" {
		args = append(append([]string(nil), args...), t.ApplyArgs...)
	}
	cmd := t.command(dir, args, env)
	cmd.Stdout = t.Stdout
	cmd.Stderr = t.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	t.logger().V(1).Info("running terraform", "dir", dir, "args", args, "envOverrides", envKeys(env))
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s %s", t.binary(), strings.Join(args, " "))
	}
	return nil
}

// Output implements Runner.
func (t *Terraform) Output(ctx context.Context, dir string, args []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := t.command(dir, args, nil)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, errors.Wrapf(err, "%s %s: %s", t.binary(), strings.Join(args, " "), msg)
		}
		return nil, errors.Wrapf(err, "%s %s", t.binary(), strings.Join(args, " "))
	}
	return out, nil
}

func (t *Terraform) command(dir string, args []string, env map[string]string) *exec.Cmd {
	cmd := exec.Command(t.binary(), args...)
	cmd.Dir = dir
	cmd.Env = procgroup.MergeEnv(os.Environ(), env)
	return cmd
}

func envKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
