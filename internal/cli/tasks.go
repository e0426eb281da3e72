package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/research"
	"github.com/dumplingcafe/research/internal/textutil"
)

func newListCmd(e *env) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored research tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			out := cmd.OutOrStdout()
			var tasks []*models.ResearchTask
			for _, t := range a.Orchestrator.Tasks() {
				if status == "" || string(t.Status) == status {
					tasks = append(tasks, t)
				}
			}
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No research tasks found.")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-5s  %-11s  %4s  %10s  %s\n", "ID", "MODE", "STATUS", "PCT", "COST", "QUERY")
			for _, t := range tasks {
				fmt.Fprintf(out, "%-36s  %-5s  %-11s  %3d%%  %10.6f  %s\n",
					t.ID, t.Mode, t.Status, t.Progress, t.TotalCost, textutil.Shorten(t.Query, 60))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only tasks with this status")
	return cmd
}

func newShowCmd(e *env) *cobra.Command {
	var logs bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a research task with its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			task, err := a.Orchestrator.Task(cmd.Context(), args[0])
			if errors.Is(err, research.ErrTaskNotFound) {
				return fmt.Errorf("research task %s not found", args[0])
			}
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), task, logs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&logs, "logs", true, "include the activity log")
	return cmd
}

func printTask(out io.Writer, t *models.ResearchTask, logs bool) {
	fmt.Fprintf(out, "ID:       %s\n", t.ID)
	fmt.Fprintf(out, "Query:    %s\n", t.Query)
	fmt.Fprintf(out, "Mode:     %s\n", t.Mode)
	fmt.Fprintf(out, "Status:   %s (%d%%)\n", t.Status, t.Progress)
	fmt.Fprintf(out, "Cost:     $%.6f\n", t.TotalCost)
	fmt.Fprintf(out, "Created:  %s\n", time.UnixMilli(t.Timestamp).UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Models:   planner=%s researcher=%s writer=%s critic=%s\n",
		orDash(t.Models.Planner), orDash(t.Models.Researcher), orDash(t.Models.Writer), orDash(t.Models.Critic))
	if logs && len(t.Logs) > 0 {
		fmt.Fprintln(out, "\nLog:")
		for _, l := range t.Logs {
			fmt.Fprintf(out, "  %s  %-10s %s\n", time.UnixMilli(l.Timestamp).UTC().Format("15:04:05"), l.Agent, l.Message)
		}
	}
	printResults(out, t)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func newDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a research task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			err = a.Orchestrator.DeleteTask(cmd.Context(), args[0])
			if errors.Is(err, research.ErrTaskNotFound) {
				return fmt.Errorf("research task %s not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newModelsCmd(e *env) *cobra.Command {
	var capability string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List selectable models, prices and presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			list := a.Catalog.All()
			if capability != "" {
				list = a.Catalog.ModelsFor(capability)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-40s  %-8s  %8s  %8s  %s\n", "MODEL", "TIER", "IN/1M", "OUT/1M", "CAPABILITIES")
			for _, m := range list {
				fmt.Fprintf(out, "%-40s  %-8s  %8.2f  %8.2f  %s\n",
					m.ID, m.Tier, m.InputPerMillion, m.OutputPerMillion, strings.Join(m.Capabilities, ","))
			}
			fmt.Fprintln(out, "\nPresets:")
			for _, p := range a.Catalog.Presets() {
				marker := " "
				if p.Name == a.Config.Research.DefaultPreset {
					marker = "*"
				}
				fmt.Fprintf(out, " %s %-9s planner=%s researcher=%s writer=%s critic=%s\n", marker, p.Name,
					p.Models.Planner, p.Models.Researcher, p.Models.Writer, p.Models.Critic)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&capability, "capability", "", "only models tagged with this capability")
	return cmd
}
