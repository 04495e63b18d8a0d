package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Module targets inside the shared Terraform root module.
const (
	TargetGoogle           = "gcp"
	TargetAWS              = "aws"
	TargetSystemComponents = "system_components"
	TargetApplication      = "astronomer"
)

// module applies one -target of the shared root module.
type module struct {
	name   string
	target string
	paths  Paths
	runner Runner
}

func (m *module) Name() string { return m.name }

func (m *module) Apply(ctx context.Context, env map[string]string) error {
	if err := m.runner.Run(ctx, m.paths.WorkDir, []string{"init", "-input=false"}, env); err != nil {
		return err
	}
	return m.runner.Run(ctx, m.paths.WorkDir, m.applyArgs(), env)
}

func (m *module) applyArgs() []string {
	return []string{
		"apply",
		"-input=false",
		"-auto-approve",
		"-state=" + m.paths.StateFile,
		"-var-file=" + m.paths.VarsFile,
		"-target=module." + m.target,
	}
}

// Output is one value of `terraform output -json`.
type Output struct {
	Sensitive bool            `json:"sensitive"`
	Type      json.RawMessage `json:"type"`
	Value     json.RawMessage `json:"value"`
}

// String returns the value when it is a JSON string or number.
func (o Output) String() (string, bool) {
	var s string
	if err := json.Unmarshal(o.Value, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(o.Value, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// Outputs are the root module outputs recorded in the state file.
type Outputs map[string]Output

// String returns the first named output that holds a non-empty scalar.
func (o Outputs) String(names ...string) (string, bool) {
	for _, name := range names {
		if out, ok := o[name]; ok {
			if v, ok := out.String(); ok {
				return v, true
			}
		}
	}
	return "", false
}

func (m *module) outputs(ctx context.Context) (Outputs, error) {
	raw, err := m.runner.Output(ctx, m.paths.WorkDir, []string{"output", "-json", "-state=" + m.paths.StateFile})
	if err != nil {
		return nil, err
	}
	var out Outputs
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode terraform outputs: %w", err)
	}
	return out, nil
}

// MissingOutputError reports outputs a proxy command could not be built without.
type MissingOutputError struct {
	Layer   string
	Missing []string
}

func (e *MissingOutputError) Error() string {
	missing := append([]string(nil), e.Missing...)
	sort.Strings(missing)
	return fmt.Sprintf("%s: cannot build bastion proxy command, missing terraform outputs: %s", e.Layer, strings.Join(missing, ", "))
}

// ShellQuote quotes s for /bin/sh when it contains anything but safe characters.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:@=,+", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// NewSystemComponents is the cluster add-on layer (ingress, monitoring, ...).
func NewSystemComponents(runner Runner) Constructor {
	return func(p Paths) Layer {
		return &module{name: "system-components", target: TargetSystemComponents, paths: p, runner: runner}
	}
}

// NewApplication is the Astronomer platform layer.
func NewApplication(runner Runner) Constructor {
	return func(p Paths) Layer {
		return &module{name: "application", target: TargetApplication, paths: p, runner: runner}
	}
}
