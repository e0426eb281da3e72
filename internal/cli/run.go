package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/research"
	"github.com/dumplingcafe/research/internal/streaming"
)

type runOptions struct {
	mode      string
	preset    string
	noCritic  bool
	overrides models.ResearchModels
}

func newRunCmd(e *env) *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run a research task and stream its log",
		Long: `Run a research task in this process, printing every log entry as it
happens and the result sections at the end.

The command exits non-zero when the task fails. Interrupting it stops
streaming, but the task still runs to completion before the process exits.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			resolved, err := a.Catalog.ResolveModels(o.preset, a.Config.Research.DefaultPreset, o.overrides)
			if err != nil {
				return err
			}
			req := research.Request{
				Query:  strings.Join(args, " "),
				Mode:   models.Mode(o.mode),
				Models: resolved,
			}
			if o.noCritic {
				off := false
				req.CriticEnabled = &off
			}

			id, err := a.Orchestrator.StartResearch(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task %s (%s)\n", id, req.Mode)

			ch, backlog := a.Events.SubscribeSince(id, 0, a.Config.Streaming.SubscriberBuffer)
			defer a.Events.Unsubscribe(id, ch)
			finished := make(chan struct{})
			go func() {
				a.Orchestrator.Wait()
				close(finished)
			}()
			if !followEvents(ctx, out, backlog, ch, finished) {
				return ctx.Err()
			}

			task, err := a.Orchestrator.Task(context.Background(), id)
			if err != nil {
				return err
			}
			printResults(out, task)
			if task.Status == models.StatusFailed {
				return fmt.Errorf("research task %s failed", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&o.mode, "mode", string(models.ModeDeep), "research mode: quick or deep")
	cmd.Flags().StringVar(&o.preset, "preset", "", "model preset (default from config)")
	cmd.Flags().BoolVar(&o.noCritic, "no-critic", false, "skip the critic review loop")
	cmd.Flags().StringVar(&o.overrides.Planner, "planner", "", "planner model override")
	cmd.Flags().StringVar(&o.overrides.Researcher, "researcher", "", "researcher model override")
	cmd.Flags().StringVar(&o.overrides.Writer, "writer", "", "writer model override")
	cmd.Flags().StringVar(&o.overrides.Critic, "critic", "", "critic model override")
	return cmd
}

// followEvents prints events until a terminal event or until finished is
// closed and the buffered events are drained. Slow subscribers can miss
// events, so finished guards against a dropped done event. It reports false
// when ctx ended first.
func followEvents(ctx context.Context, out io.Writer, backlog []streaming.Event, ch <-chan streaming.Event, finished <-chan struct{}) bool {
	for _, evt := range backlog {
		printEvent(out, evt)
		if evt.Terminal() {
			return true
		}
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-ch:
			if !ok {
				return true
			}
			printEvent(out, evt)
			if evt.Terminal() {
				return true
			}
		case <-finished:
			for {
				select {
				case evt, ok := <-ch:
					if !ok {
						return true
					}
					printEvent(out, evt)
					if evt.Terminal() {
						return true
					}
				default:
					return true
				}
			}
		}
	}
}

func printEvent(out io.Writer, evt streaming.Event) {
	switch evt.Type {
	case streaming.EventLog:
		fmt.Fprintf(out, "[%3d%%] %-10s %s\n", evt.Progress, evt.Agent, evt.Message)
	case streaming.EventDone:
		fmt.Fprintf(out, "[%3d%%] %s, total cost $%.6f\n", evt.Progress, evt.Status, evt.TotalCost)
	case streaming.EventDeleted:
		fmt.Fprintln(out, "Task deleted.")
	}
}

func printResults(out io.Writer, task *models.ResearchTask) {
	if len(task.Results) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Join(task.Results, "\n\n"))
}
