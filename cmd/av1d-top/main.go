// av1d-top is a terminal viewer for a running av1d daemon. It polls
// the metrics endpoint once per second and renders the job table and
// host gauges.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"av1d/internal/metrics"
)

const pollInterval = time.Second

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	gaugeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	headerStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7878", "daemon metrics address")
	flag.Parse()

	m := newModel("http://" + *addr + "/metrics")
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type tickMsg struct{}

type snapshotMsg struct {
	snap metrics.Snapshot
	err  error
}

type model struct {
	url   string
	tbl   table.Model
	snap  metrics.Snapshot
	err   error
	width int
}

func newModel(url string) model {
	columns := []table.Column{
		{Title: "ID", Width: 8},
		{Title: "Input", Width: 42},
		{Title: "Stage", Width: 12},
		{Title: "Progress", Width: 9},
		{Title: "FPS", Width: 7},
		{Title: "Workers", Width: 7},
		{Title: "Before", Width: 10},
		{Title: "After", Width: 10},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	tbl.SetStyles(styles)

	return model{url: url, tbl: tbl}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.url), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.tbl.SetHeight(maxInt(msg.Height-8, 4))
	case tickMsg:
		return m, tea.Batch(fetchCmd(m.url), tickCmd())
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.tbl.SetRows(jobRows(msg.snap))
		}
	}

	var cmd tea.Cmd
	m.tbl, cmd = m.tbl.Update(msg)
	return m, cmd
}

func (m model) View() string {
	header := m.renderHeader()
	hint := gaugeStyle.Render("q quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, m.tbl.View(), hint)
}

func (m model) renderHeader() string {
	title := titleStyle.Render("av1d")
	if m.err != nil {
		return lipgloss.JoinVertical(lipgloss.Left,
			title,
			errorStyle.Render("daemon unreachable: "+m.err.Error()),
		)
	}

	sys := m.snap.System
	gauges := gaugeStyle.Render(fmt.Sprintf(
		"cpu %5.1f%%  mem %5.1f%%  load %.2f %.2f %.2f",
		sys.CPUUsagePercent, sys.MemUsagePercent,
		sys.LoadAvg1, sys.LoadAvg5, sys.LoadAvg15,
	))
	counters := okStyle.Render(fmt.Sprintf(
		"running %d  queued %d  completed %d  failed %d  encoded %s",
		m.snap.RunningJobs, m.snap.QueueLen,
		m.snap.CompletedJobs, m.snap.FailedJobs,
		humanBytes(m.snap.TotalBytesEncoded),
	))
	return headerStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, gauges, counters))
}

func fetchCmd(url string) tea.Cmd {
	return func() tea.Msg {
		client := http.Client{Timeout: pollInterval}
		resp, err := client.Get(url)
		if err != nil {
			return snapshotMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return snapshotMsg{err: fmt.Errorf("metrics endpoint returned %s", resp.Status)}
		}
		var snap metrics.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{snap: snap}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func jobRows(snap metrics.Snapshot) []table.Row {
	rows := make([]table.Row, 0, len(snap.Jobs))
	for _, j := range snap.Jobs {
		rows = append(rows, table.Row{
			shortID(j.ID),
			truncateLeft(j.InputPath, 42),
			j.Stage,
			fmt.Sprintf("%5.1f%%", j.Progress*100),
			fmt.Sprintf("%.1f", j.FPS),
			fmt.Sprintf("%d", j.Workers),
			humanBytes(j.SizeBytesBefore),
			humanBytes(j.SizeBytesAfter),
		})
	}
	return rows
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncateLeft keeps the tail of long paths, which carries the file
// name.
func truncateLeft(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return "…" + string(r[len(r)-width+1:])
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GiB", float64(n)/float64(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
