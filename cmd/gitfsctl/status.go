package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/utilitywarehouse/gitfs/pkg/gitfs"
)

func newStatusCmd(configPath *string) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "show remote and environment counts; --watch keeps refreshing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx, *configPath)
			if err != nil {
				return err
			}

			if !watch {
				snap, err := takeSnapshot(ctx, pool)
				if err != nil {
					return err
				}
				return renderSnapshotTable(snap)
			}

			p := tea.NewProgram(newStatusModel(ctx, pool))
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep the snapshot refreshing live")
	return cmd
}

type statusSnapshot struct {
	remotes   int
	envs      []string
	takenAt   time.Time
	err       error
}

func takeSnapshot(ctx context.Context, pool *gitfs.RepoPool) (statusSnapshot, error) {
	envs, err := pool.Envs(ctx, false)
	if err != nil {
		return statusSnapshot{}, err
	}
	return statusSnapshot{
		remotes: len(pool.Remotes()),
		envs:    envs,
		takenAt: time.Now(),
	}, nil
}

func renderSnapshotTable(snap statusSnapshot) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("REMOTES", "ENVIRONMENTS")
	_ = table.Append([]string{fmt.Sprintf("%d", snap.remotes), fmt.Sprintf("%d", len(snap.envs))})
	return table.Render()
}

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	statusDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type refreshMsg statusSnapshot

type statusModel struct {
	ctx  context.Context
	pool *gitfs.RepoPool
	snap statusSnapshot
}

func newStatusModel(ctx context.Context, pool *gitfs.RepoPool) statusModel {
	return statusModel{ctx: ctx, pool: pool}
}

func (m statusModel) Init() tea.Cmd {
	return m.refresh()
}

func (m statusModel) refresh() tea.Cmd {
	return func() tea.Msg {
		snap, err := takeSnapshot(m.ctx, m.pool)
		snap.err = err
		return refreshMsg(snap)
	}
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case refreshMsg:
		m.snap = statusSnapshot(msg)
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return m.refresh()() })
	}
	return m, nil
}

func (m statusModel) View() string {
	header := statusTitleStyle.Render("gitfsctl status") + "  " + statusDimStyle.Render("q to quit")
	if m.snap.err != nil {
		return header + "\n\n" + fmt.Sprintf("error: %v\n", m.snap.err)
	}
	if m.snap.takenAt.IsZero() {
		return header + "\n\nloading...\n"
	}
	body := fmt.Sprintf("remotes: %d\nenvironments: %d\nupdated: %s\n",
		m.snap.remotes, len(m.snap.envs), m.snap.takenAt.Format(time.RFC3339))
	return header + "\n\n" + body
}
