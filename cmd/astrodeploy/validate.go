package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/example/astrodeploy/internal/varsfile"
	"github.com/spf13/cobra"
)

func newValidateCommand(global *globalOptions) *cobra.Command {
	opts := &deployOptions{}
	cmd := &cobra.Command{
		Use:   "validate VARS_FILE STATE_FILE",
		Short: "Check the vars and state paths and the vars file syntax without applying",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := global.logger(cmd)
			if err != nil {
				return err
			}
			o, err := opts.orchestrator(cmd.Context(), cmd, log, args)
			if err != nil {
				return err
			}
			vars, err := varsfile.Load(o.VarsFile())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Platform:\t%s\n", o.Platform())
			fmt.Fprintf(tw, "Vars file:\t%s\n", o.VarsFile())
			fmt.Fprintf(tw, "State file:\t%s\n", o.StateFile())
			fmt.Fprintf(tw, "Project root:\t%s\n", o.Root())
			fmt.Fprintf(tw, "Terraform dir:\t%s\n", o.WorkDir())
			fmt.Fprintf(tw, "Variables:\t%s\n", strings.Join(vars.Names(), ", "))
			return tw.Flush()
		},
	}
	opts.bindTerraformFlags(cmd.Flags())
	return cmd
}
