// Package layers holds the three Terraform layers astrodeploy applies: the cloud
// infrastructure for a platform, the cluster system components and the application.
//
// All layers share one Terraform root module and one state file; each apply is scoped
// to its own module with -target. The platform label of the vars file picks which
// infrastructure layer is used.
package layers

import (
	"context"
	"sort"
)

// Layer is one apply step.
type Layer interface {
	Name() string
	Apply(ctx context.Context, env map[string]string) error
}

// InfraLayer is the platform infrastructure. It also knows how to reach the bastion
// host it created.
type InfraLayer interface {
	Layer
	// ProxyCommand returns the shell command that opens an HTTP proxy on
	// 127.0.0.1:1234 through the bastion host.
	ProxyCommand(ctx context.Context) (string, error)
}

// Paths are the normalized inputs every layer is built from.
type Paths struct {
	VarsFile  string
	StateFile string
	WorkDir   string
}

// InfraConstructor builds the infrastructure layer for one platform.
type InfraConstructor func(Paths) InfraLayer

// Constructor builds a platform independent layer.
type Constructor func(Paths) Layer

// Registry maps platform labels to infrastructure layers. The label of a vars file is
// the name of the directory it lives in.
type Registry map[string]InfraConstructor

// Labels returns the registered platform labels, sorted.
func (r Registry) Labels() []string {
	out := make([]string, 0, len(r))
	for label := range r {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns the google and aws infrastructure layers.
func DefaultRegistry(runner Runner) Registry {
	return Registry{
		"google": NewGoogleInfra(runner),
		"aws":    NewAWSInfra(runner),
	}
}
