// main.go bootstraps astrodeploy: it builds the root Cobra command and executes it with a
// signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/example/astrodeploy/internal/convention"
	"github.com/example/astrodeploy/internal/gitroot"
	"github.com/example/astrodeploy/internal/logging"
	"github.com/example/astrodeploy/internal/tunnel"
	"github.com/go-logr/logr"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ASTRODEPLOY"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

type globalOptions struct {
	logLevel  string
	logFormat string
}

func (g *globalOptions) logger(cmd *cobra.Command) (logr.Logger, error) {
	return logging.New(g.logLevel, g.logFormat, cmd.ErrOrStderr())
}

func newRootCommand() *cobra.Command {
	global := &globalOptions{logLevel: "info", logFormat: "console"}
	cmd := &cobra.Command{
		Use:           "astrodeploy",
		Short:         "Deploy the platform infrastructure, system components and application with Terraform",
		Long:          "astrodeploy applies the cloud infrastructure for a platform, opens a proxy through the bastion host it created, and applies the system components and the application through that proxy.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindViper(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&global.logLevel, "log-level", global.logLevel, "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&global.logFormat, "log-format", global.logFormat, "Log format (console, json)")
	cmd.AddCommand(
		newDeployCommand(global),
		newValidateCommand(global),
		newProxyCommand(global),
		newRunsCommand(global),
		newEnvCommand(),
		newVersionCommand(),
	)
	cmd.Example = `  # Apply everything for the google environment
  astrodeploy deploy environments/google/prod.tfvars environments/google/prod.tfstate

  # Check paths and vars file syntax without applying
  astrodeploy validate environments/aws/prod.tfvars environments/aws/prod.tfstate

  # Show the last deploys
  astrodeploy runs`
	return cmd
}

// bindViper fills flags the user did not set from ASTRODEPLOY_* variables and the
// config file.
func bindViper(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	configFile := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG"))
	configureConfigFile(cmd.Context(), v, configFile)

	flagSets := []*pflag.FlagSet{cmd.Flags(), cmd.InheritedFlags()}
	for _, fs := range flagSets {
		if err := v.BindPFlags(fs); err != nil {
			return err
		}
	}
	if err := readConfigFile(v, configFile != ""); err != nil {
		return err
	}
	var setErr error
	for _, fs := range flagSets {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Changed || !v.IsSet(f.Name) {
				return
			}
			val := fmt.Sprintf("%v", v.Get(f.Name))
			if val == "" || val == f.Value.String() {
				return
			}
			if err := f.Value.Set(val); err != nil && setErr == nil {
				setErr = fmt.Errorf("invalid value %q for --%s from environment or config: %w", val, f.Name, err)
			}
		})
	}
	return setErr
}

func configureConfigFile(ctx context.Context, v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName(".astrodeploy")
	v.SetConfigType("yaml")
	if ctx == nil {
		ctx = context.Background()
	}
	if root, err := gitroot.Find(ctx, ""); err == nil {
		v.AddConfigPath(root)
	}
	if home, err := homedir.Dir(); err == nil {
		v.AddConfigPath(home)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(err))
}

func errorMessage(err error) string {
	message := err.Error()
	var convErr *convention.ConventionError
	switch {
	case errors.As(err, &convErr) && len(convErr.Valid) > 0:
		message = fmt.Sprintf("%s\nHint: move the vars file into a directory named after its platform, e.g. environments/%s/prod.tfvars.", err, convErr.Valid[0])
	case errors.Is(err, exec.ErrNotFound):
		message = fmt.Sprintf("%s\nHint: install terraform or point --terraform-bin at it.", err)
	case errors.Is(err, gitroot.ErrNotFound):
		message = fmt.Sprintf("%s\nHint: run astrodeploy from inside the project checkout.", err)
	case errors.Is(err, tunnel.ErrNotReady):
		message = fmt.Sprintf("%s\nHint: run the bastion proxy command by hand, or raise --proxy-settle / use --proxy-readiness=probe.", err)
	case errors.Is(err, context.Canceled):
		message = fmt.Sprintf("%s\nHint: interrupted; layers applied so far were left in place.", err)
	}
	return message
}
