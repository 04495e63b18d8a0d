package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/astrodeploy/internal/gitroot"
	"github.com/example/astrodeploy/internal/history"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

func newRunsCommand(global *globalOptions) *cobra.Command {
	var output string
	var limit int
	var root string
	cmd := &cobra.Command{
		Use:   "runs [RUN_ID]",
		Short: "List recent deploys, or the phases of one deploy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format := strings.ToLower(strings.TrimSpace(output))
			switch format {
			case "", "table", "json", "yaml", "yml":
			default:
				return fmt.Errorf("unsupported --output %q (expected table, json, or yaml)", output)
			}
			if strings.TrimSpace(root) == "" {
				found, err := gitroot.Find(cmd.Context(), "")
				if err != nil {
					return err
				}
				root = found
			}
			store, err := history.Open(root, true)
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(cmd.ErrOrStderr(), "No runs recorded yet.")
				return nil
			}
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				runs, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if format == "" || format == "table" {
					return printRuns(cmd.OutOrStdout(), runs)
				}
				return encode(cmd.OutOrStdout(), format, runs)
			}

			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			phases, err := store.Phases(cmd.Context(), run.RunID)
			if err != nil {
				return err
			}
			if format == "" || format == "table" {
				return printPhases(cmd.OutOrStdout(), run, phases)
			}
			return encode(cmd.OutOrStdout(), format, struct {
				history.RunRecord
				Phases []history.PhaseRecord `json:"phases"`
			}{run, phases})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, yaml")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&root, "root", "", "Project root holding .astrodeploy/history.sqlite (default: the enclosing git checkout)")
	return cmd
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}
}

func statusColor(status string) *color.Color {
	switch status {
	case history.StatusSucceeded:
		return color.New(color.FgGreen)
	case history.StatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func duration(started time.Time, finished *time.Time) string {
	if finished == nil {
		return "-"
	}
	return finished.Sub(started).Round(time.Second).String()
}

func printRuns(w io.Writer, runs []history.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPLATFORM\tSTATUS\tSTARTED\tDURATION\tVARS FILE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID,
			r.Platform,
			statusColor(r.Status).Sprint(strings.ToUpper(r.Status)),
			r.StartedAt.Local().Format(time.RFC3339),
			duration(r.StartedAt, r.FinishedAt),
			r.VarsFile,
		)
	}
	return tw.Flush()
}

func printPhases(w io.Writer, run history.RunRecord, phases []history.PhaseRecord) error {
	fmt.Fprintf(w, "Run %s (%s) %s\n", run.RunID, run.Platform, statusColor(run.Status).Sprint(strings.ToUpper(run.Status)))
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSTATUS\tDURATION\tERROR")
	for _, p := range phases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			p.Phase,
			statusColor(p.Status).Sprint(strings.ToUpper(p.Status)),
			duration(p.StartedAt, p.FinishedAt),
			p.Error,
		)
	}
	return tw.Flush()
}
