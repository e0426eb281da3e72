package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dumplingcafe/research/internal/models"
)

const (
	watchLogTail  = 12
	progressWidth = 40
)

// taskLoader fetches the latest snapshot of the watched task.
type taskLoader func(ctx context.Context) (*models.ResearchTask, error)

type watchModel struct {
	load     taskLoader
	interval time.Duration
	width    int

	task *models.ResearchTask
	err  error
	done bool
}

// taskLoadedMsg carries a polled snapshot back to the model.
type taskLoadedMsg struct {
	task *models.ResearchTask
	err  error
	// manual loads come from a key press and leave the polling loop alone
	manual bool
}

type tickMsg struct{}

var (
	watchTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	watchPanelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	agentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newWatchModel(load taskLoader, interval time.Duration) watchModel {
	if interval <= 0 {
		interval = time.Second
	}
	return watchModel{load: load, interval: interval}
}

func (m watchModel) Init() tea.Cmd {
	return m.fetch
}

func (m watchModel) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	task, err := m.load(ctx)
	return taskLoadedMsg{task: task, err: err}
}

func (m watchModel) refresh() tea.Msg {
	msg := m.fetch().(taskLoadedMsg)
	msg.manual = true
	return msg
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, m.fetch
	case taskLoadedMsg:
		m.err = msg.err
		if msg.task != nil {
			m.task = msg.task
		}
		if m.task != nil && m.task.Status.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		if msg.manual {
			return m, nil
		}
		return m, m.tick()
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("Research"))
	b.WriteString("\n\n")

	if m.task == nil {
		if m.err != nil {
			b.WriteString(failedStyle.Render("Error: " + m.err.Error()))
		} else {
			b.WriteString("Loading...")
		}
		b.WriteString("\n")
		return b.String()
	}

	t := m.task
	var panel strings.Builder
	fmt.Fprintf(&panel, "%s\n\n", t.Query)
	status := string(t.Status)
	if t.Status == models.StatusFailed {
		status = failedStyle.Render(status)
	}
	fmt.Fprintf(&panel, "%s %3d%%  %s  $%.6f\n", progressBar(t.Progress, progressWidth), t.Progress, status, t.TotalCost)

	logs := t.Logs
	if len(logs) > watchLogTail {
		logs = logs[len(logs)-watchLogTail:]
	}
	if len(logs) > 0 {
		panel.WriteString("\n")
	}
	for _, l := range logs {
		fmt.Fprintf(&panel, "%s %s\n", agentStyle.Render(fmt.Sprintf("%-10s", l.Agent)), l.Message)
	}
	b.WriteString(watchPanelStyle.Render(strings.TrimRight(panel.String(), "\n")))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(failedStyle.Render("Refresh failed: "+m.err.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render("r: refresh  q: quit"))
	b.WriteString("\n")
	return b.String()
}

func progressBar(pct, width int) string {
	pct = max(0, min(pct, 100))
	filled := pct * width / 100
	return "[" + barStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", width-filled) + "]"
}

func newWatchCmd(e *env) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a research task in an interactive view",
		Long: `Poll a stored research task and show its progress, cost and latest log
entries. The view closes once the task completes or fails.

Watching works against any shared store, so a task started by the server
can be followed from another terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			id := args[0]
			model := newWatchModel(func(ctx context.Context) (*models.ResearchTask, error) {
				return a.Store.Get(ctx, id)
			}, interval)
			final, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			if err != nil {
				return fmt.Errorf("running watch view: %w", err)
			}
			if wm, ok := final.(watchModel); ok && wm.task != nil {
				printTask(cmd.OutOrStdout(), wm.task, false)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	return cmd
}
