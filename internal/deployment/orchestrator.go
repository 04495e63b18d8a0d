// Package deployment drives a full astrodeploy rollout: apply the platform
// infrastructure, open the bastion proxy, apply the system components and the
// application through it, close the proxy.
//
// The sequence is strictly linear. Any failure aborts the rest of it and is returned to
// the caller; completed layers are left in place and nothing is retried. The proxy is
// always torn down before Deploy returns. The state file is assumed to have a single
// writer: nothing prevents two deploys against the same state from running at once.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"time"

	"github.com/example/astrodeploy/internal/convention"
	"github.com/example/astrodeploy/internal/gitroot"
	"github.com/example/astrodeploy/internal/layers"
	"github.com/example/astrodeploy/internal/tunnel"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Config names the inputs of a deployment and the layers it is built from.
type Config struct {
	VarsFile         string
	StateFile        string
	Registry         layers.Registry
	SystemComponents layers.Constructor
	Application      layers.Constructor
}

// RootResolver returns the absolute path of the project checkout.
type RootResolver func(ctx context.Context) (string, error)

// Opener runs fn while a proxy tunnel built from command is up and passes it the
// proxy endpoint. The tunnel must be gone when Opener returns.
type Opener func(ctx context.Context, command string, fn func(ctx context.Context, endpoint string) error) error

// TunnelOpener opens real bastion tunnels.
func TunnelOpener(opts tunnel.Options) Opener {
	return func(ctx context.Context, command string, fn func(ctx context.Context, endpoint string) error) error {
		return tunnel.With(ctx, command, opts, func(ctx context.Context, t *tunnel.Tunnel) error {
			return fn(ctx, t.Endpoint)
		})
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithRecorder records run progress, typically into the run history.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTunnelOptions configures the default tunnel opener.
func WithTunnelOptions(opts tunnel.Options) Option {
	return func(o *Orchestrator) { o.tunnelOpts = opts }
}

// WithOpener replaces the tunnel opener.
func WithOpener(open Opener) Option {
	return func(o *Orchestrator) { o.open = open }
}

// WithRootResolver replaces git based project root discovery.
func WithRootResolver(resolve RootResolver) Option {
	return func(o *Orchestrator) { o.resolveRoot = resolve }
}

func defaultRoot(ctx context.Context) (string, error) {
	return gitroot.Find(ctx, "")
}

// Orchestrator owns the three layers of one deployment.
type Orchestrator struct {
	varsFile  string
	stateFile string
	platform  string
	root      string
	workDir   string

	infra            layers.InfraLayer
	systemComponents layers.Layer
	application      layers.Layer

	state       State
	log         logr.Logger
	recorder    Recorder
	tunnelOpts  tunnel.Options
	open        Opener
	resolveRoot RootResolver
}

// New validates the vars and state paths and builds the layers. Validation happens
// before anything else: a rejected configuration writes no files and starts no
// processes.
func New(ctx context.Context, cfg Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		state:       StateUnvalidated,
		log:         logr.Discard(),
		recorder:    nopRecorder{},
		tunnelOpts:  tunnel.DefaultOptions(),
		resolveRoot: defaultRoot,
	}
	for _, opt := range opts {
		opt(o)
	}
	if len(cfg.Registry) == 0 {
		return nil, errors.New("no platforms registered")
	}
	if cfg.SystemComponents == nil || cfg.Application == nil {
		return nil, errors.New("system components and application layers are required")
	}

	vars, err := convention.ResolveVarsFile(cfg.VarsFile, cfg.Registry.Labels())
	if err != nil {
		return nil, err
	}
	state, err := convention.ResolveStateFile(cfg.StateFile)
	if err != nil {
		return nil, err
	}
	root, err := o.resolveRoot(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	o.varsFile = vars.Path
	o.stateFile = state
	o.platform = vars.Platform
	o.root = root
	o.workDir = filepath.Join(root, "terraform")
	if o.open == nil {
		topts := o.tunnelOpts
		if topts.Log.GetSink() == nil {
			topts.Log = o.log.WithName("tunnel")
		}
		if topts.Dir == "" {
			topts.Dir = o.workDir
		}
		o.open = TunnelOpener(topts)
	}

	paths := layers.Paths{VarsFile: o.varsFile, StateFile: o.stateFile, WorkDir: o.workDir}
	// The platform was validated against this registry above, so the lookup succeeds.
	o.infra = cfg.Registry[o.platform](paths)
	o.systemComponents = cfg.SystemComponents(paths)
	o.application = cfg.Application(paths)
	o.state = StateValidated
	o.log.V(1).Info("deployment validated", "platform", o.platform, "varsFile", o.varsFile, "stateFile", o.stateFile, "workDir", o.workDir)
	return o, nil
}

// Platform is the label derived from the vars file location.
func (o *Orchestrator) Platform() string { return o.platform }

// VarsFile is the normalized vars file path.
func (o *Orchestrator) VarsFile() string { return o.varsFile }

// StateFile is the normalized state file path.
func (o *Orchestrator) StateFile() string { return o.stateFile }

// Root is the project checkout.
func (o *Orchestrator) Root() string { return o.root }

// WorkDir is the Terraform root module directory.
func (o *Orchestrator) WorkDir() string { return o.workDir }

// SetRecorder replaces the recorder. Stores that live under Root are attached this
// way, after validation.
func (o *Orchestrator) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	o.recorder = r
}

// State is the last state reached.
func (o *Orchestrator) State() State { return o.state }

// Deploy applies the infrastructure, system components and application layers in that
// order. The last two run through the bastion proxy with identical environments.
func (o *Orchestrator) Deploy(ctx context.Context) (err error) {
	if o.state != StateValidated {
		return fmt.Errorf("deployment cannot start from state %s", o.state)
	}
	run := Run{
		ID:        uuid.NewString(),
		Platform:  o.platform,
		VarsFile:  o.varsFile,
		StateFile: o.stateFile,
		StartedAt: time.Now().UTC(),
	}
	log := o.log.WithValues("run", run.ID, "platform", o.platform)
	o.record(log, "start run", o.recorder.StartRun(ctx, run))
	defer func() {
		o.record(log, "finish run", o.recorder.FinishRun(context.WithoutCancel(ctx), run.ID, err))
		if err != nil {
			log.Error(err, "deployment failed", "state", o.state.String())
			return
		}
		log.Info("deployment complete", "duration", time.Since(run.StartedAt).Round(time.Second).String())
	}()

	if err := o.apply(ctx, log, run.ID, PhaseInfrastructure, o.infra, nil); err != nil {
		return err
	}
	o.state = StateInfraApplied

	o.record(log, "start phase", o.recorder.StartPhase(ctx, run.ID, PhaseProxy))
	command, err := o.infra.ProxyCommand(ctx)
	if err != nil {
		o.record(log, "finish phase", o.recorder.FinishPhase(ctx, run.ID, PhaseProxy, err))
		return &PhaseError{Phase: PhaseProxy, Err: err}
	}

	var scopeErr error
	err = o.open(ctx, command, func(ctx context.Context, endpoint string) error {
		o.state = StateProxyUp
		env := tunnel.Environment(endpoint, o.root)
		scopeErr = o.proxied(ctx, log, run.ID, env)
		return scopeErr
	})
	proxyErr := err
	if scopeErr != nil && err == scopeErr {
		proxyErr = nil
	}
	o.record(log, "finish phase", o.recorder.FinishPhase(context.WithoutCancel(ctx), run.ID, PhaseProxy, proxyErr))
	if err != nil {
		var phaseErr *PhaseError
		if errors.As(err, &phaseErr) {
			return err
		}
		return &PhaseError{Phase: PhaseProxy, Err: err}
	}
	o.state = StateDone
	return nil
}

func (o *Orchestrator) proxied(ctx context.Context, log logr.Logger, runID string, env map[string]string) error {
	if err := o.apply(ctx, log, runID, PhaseSystemComponents, o.systemComponents, maps.Clone(env)); err != nil {
		return err
	}
	o.state = StateSystemComponentsApplied
	if err := o.apply(ctx, log, runID, PhaseApplication, o.application, maps.Clone(env)); err != nil {
		return err
	}
	o.state = StateApplicationApplied
	return nil
}

func (o *Orchestrator) apply(ctx context.Context, log logr.Logger, runID string, phase Phase, layer layers.Layer, env map[string]string) error {
	log = log.WithValues("phase", string(phase), "layer", layer.Name())
	o.record(log, "start phase", o.recorder.StartPhase(ctx, runID, phase))
	started := time.Now()
	log.Info("applying layer")
	err := layer.Apply(ctx, env)
	o.record(log, "finish phase", o.recorder.FinishPhase(context.WithoutCancel(ctx), runID, phase, err))
	if err != nil {
		return &PhaseError{Phase: phase, Err: err}
	}
	log.Info("layer applied", "duration", time.Since(started).Round(time.Second).String())
	return nil
}

// Proxy opens the bastion tunnel of an already applied infrastructure layer and runs fn
// with the proxy environment. No layer is applied.
func (o *Orchestrator) Proxy(ctx context.Context, fn func(ctx context.Context, env map[string]string) error) error {
	if o.state == StateUnvalidated {
		return errors.New("deployment is not validated")
	}
	command, err := o.infra.ProxyCommand(ctx)
	if err != nil {
		return &PhaseError{Phase: PhaseProxy, Err: err}
	}
	return o.open(ctx, command, func(ctx context.Context, endpoint string) error {
		return fn(ctx, tunnel.Environment(endpoint, o.root))
	})
}

func (o *Orchestrator) record(log logr.Logger, what string, err error) {
	if err != nil {
		log.Error(err, "run history update failed", "step", what)
	}
}
