package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/example/astrodeploy/internal/deployment"
	"github.com/example/astrodeploy/internal/history"
	"github.com/example/astrodeploy/internal/layers"
	"github.com/example/astrodeploy/internal/tunnel"
	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// deployOptions are the flags shared by commands that build an Orchestrator.
type deployOptions struct {
	terraformBin      string
	terraformArgs     string
	proxySettle       time.Duration
	proxyReadiness    string
	proxyProbeTimeout time.Duration
}

func (o *deployOptions) bindTerraformFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.terraformBin, "terraform-bin", "terraform", "Terraform binary to run")
	fs.StringVar(&o.terraformArgs, "terraform-args", "", "Extra arguments appended to every terraform apply (shell quoted)")
}

func (o *deployOptions) bindProxyFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&o.proxySettle, "proxy-settle", tunnel.DefaultSettle, "Time given to the bastion tunnel before it is used")
	fs.StringVar(&o.proxyReadiness, "proxy-readiness", string(tunnel.ReadinessSleep), "How to decide the tunnel is up: sleep (settle only) or probe (settle, then poll the proxy port)")
	fs.DurationVar(&o.proxyProbeTimeout, "proxy-probe-timeout", tunnel.DefaultProbeTimeout, "Upper bound on probing the proxy port")
}

func (o *deployOptions) tunnelOptions(log logr.Logger, stdout, stderr io.Writer) (tunnel.Options, error) {
	readiness, err := tunnel.ParseReadiness(o.proxyReadiness)
	if err != nil {
		return tunnel.Options{}, err
	}
	if o.proxySettle < 0 {
		return tunnel.Options{}, fmt.Errorf("--proxy-settle must not be negative")
	}
	opts := tunnel.DefaultOptions()
	opts.Settle = o.proxySettle
	opts.Readiness = readiness
	if o.proxyProbeTimeout > 0 {
		opts.ProbeTimeout = o.proxyProbeTimeout
	}
	opts.Stdout = stdout
	opts.Stderr = stderr
	opts.Log = log.WithName("tunnel")
	return opts, nil
}

func (o *deployOptions) runner(log logr.Logger, stdout, stderr io.Writer) (*layers.Terraform, error) {
	args, err := layers.ParseArgs(o.terraformArgs)
	if err != nil {
		return nil, err
	}
	return &layers.Terraform{
		Binary:    o.terraformBin,
		ApplyArgs: args,
		Stdout:    stdout,
		Stderr:    stderr,
		Log:       log.WithName("terraform"),
	}, nil
}

// config returns the standard layer set for vars and state.
func config(runner layers.Runner, varsFile, stateFile string) deployment.Config {
	return deployment.Config{
		VarsFile:         varsFile,
		StateFile:        stateFile,
		Registry:         layers.DefaultRegistry(runner),
		SystemComponents: layers.NewSystemComponents(runner),
		Application:      layers.NewApplication(runner),
	}
}

func (o *deployOptions) orchestrator(ctx context.Context, cmd *cobra.Command, log logr.Logger, args []string, extra ...deployment.Option) (*deployment.Orchestrator, error) {
	runner, err := o.runner(log, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	topts, err := o.tunnelOptions(log, cmd.ErrOrStderr(), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	opts := append([]deployment.Option{
		deployment.WithLogger(log.WithName("deployment")),
		deployment.WithTunnelOptions(topts),
	}, extra...)
	return deployment.New(ctx, config(runner, args[0], args[1]), opts...)
}

func newDeployCommand(global *globalOptions) *cobra.Command {
	opts := &deployOptions{}
	var noHistory bool
	cmd := &cobra.Command{
		Use:   "deploy VARS_FILE STATE_FILE",
		Short: "Apply infrastructure, system components and application",
		Long: `Apply the three Terraform layers in order:

  1. the infrastructure of the platform named by the vars file's directory (aws or google)
  2. the system components, through a proxy opened on the bastion host
  3. the application, through the same proxy

The proxy is closed before the command returns, also on failure. Layers applied before a
failure are left in place.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := global.logger(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			o, err := opts.orchestrator(ctx, cmd, log, args)
			if err != nil {
				return err
			}
			out := cmd.ErrOrStderr()
			if !noHistory {
				store, err := history.Open(o.Root(), false)
				if err != nil {
					log.Error(err, "run history unavailable, continuing without it")
				} else {
					defer store.Close()
					o.SetRecorder(store)
				}
			}
			banner := color.New(color.Bold)
			banner.Fprintf(out, "Deploying %s (%s)\n", o.VarsFile(), o.Platform())
			if err := o.Deploy(ctx); err != nil {
				color.New(color.FgRed, color.Bold).Fprintf(out, "Deploy failed after %s\n", o.State())
				return err
			}
			color.New(color.FgGreen, color.Bold).Fprintln(out, "Deploy complete")
			return nil
		},
	}
	opts.bindTerraformFlags(cmd.Flags())
	opts.bindProxyFlags(cmd.Flags())
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record this run in .astrodeploy/history.sqlite")
	return cmd
}
