package layers

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/astrodeploy/internal/varsfile"
)

// GoogleInfra is the GCP network, GKE cluster and IAP bastion.
type GoogleInfra struct {
	module
}

// NewGoogleInfra returns the constructor registered under "google".
func NewGoogleInfra(runner Runner) InfraConstructor {
	return func(p Paths) InfraLayer {
		return &GoogleInfra{module: module{name: "infrastructure/google", target: TargetGoogle, paths: p, runner: runner}}
	}
}

// ProxyCommand prefers the bastion_proxy_command output and otherwise builds an IAP
// ssh tunnel to the tinyproxy listening on the bastion.
func (g *GoogleInfra) ProxyCommand(ctx context.Context) (string, error) {
	outs, err := g.outputs(ctx)
	if err != nil {
		return "", err
	}
	if cmd, ok := outs.String("bastion_proxy_command"); ok {
		return cmd, nil
	}
	var missing []string
	name, ok := outs.String("bastion_name", "bastion")
	if !ok {
		missing = append(missing, "bastion_name")
	}
	zone, ok := outs.String("bastion_zone", "zone")
	if !ok {
		missing = append(missing, "bastion_zone")
	}
	project, ok := outs.String("project", "project_id")
	if !ok {
		project, ok = g.varsProject()
	}
	if !ok {
		missing = append(missing, "project")
	}
	if len(missing) > 0 {
		return "", &MissingOutputError{Layer: g.name, Missing: missing}
	}
	return strings.Join([]string{
		"gcloud", "beta", "compute", "ssh",
		"--zone", ShellQuote(zone),
		ShellQuote(name),
		"--project", ShellQuote(project),
		"--tunnel-through-iap",
		fmt.Sprintf("--ssh-flag=%s", ShellQuote("-L 1234:127.0.0.1:8888 -C -N")),
	}, " "), nil
}

func (g *GoogleInfra) varsProject() (string, bool) {
	f, err := varsfile.Load(g.paths.VarsFile)
	if err != nil {
		return "", false
	}
	return f.FirstString("project", "project_id")
}
