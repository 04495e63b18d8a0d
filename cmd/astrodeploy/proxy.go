package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/example/astrodeploy/internal/layers"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newProxyCommand(global *globalOptions) *cobra.Command {
	opts := &deployOptions{}
	cmd := &cobra.Command{
		Use:   "proxy VARS_FILE STATE_FILE",
		Short: "Open the bastion proxy of an applied environment and hold it until interrupted",
		Long: `Open the bastion proxy of an environment whose infrastructure is already applied,
print the environment the proxied layers use as export lines, and keep the proxy up
until SIGINT or SIGTERM. Nothing is applied.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := global.logger(cmd)
			if err != nil {
				return err
			}
			o, err := opts.orchestrator(cmd.Context(), cmd, log, args)
			if err != nil {
				return err
			}
			return o.Proxy(cmd.Context(), func(ctx context.Context, env map[string]string) error {
				fmt.Fprint(cmd.OutOrStdout(), exportLines(env))
				color.New(color.Faint).Fprintln(cmd.ErrOrStderr(), "Proxy up, press Ctrl-C to close it")
				<-ctx.Done()
				return nil
			})
		},
	}
	opts.bindTerraformFlags(cmd.Flags())
	opts.bindProxyFlags(cmd.Flags())
	return cmd
}

// exportLines renders env as sorted POSIX shell export statements.
func exportLines(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, layers.ShellQuote(env[k]))
	}
	return b.String()
}
