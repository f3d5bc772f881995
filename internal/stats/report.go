package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// Default reporting thresholds.
const (
	DefaultEveryNew     = 20
	DefaultEverySkipped = 50
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	inactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Reporter prints a snapshot whenever run totals cross a reporting
// threshold.
type Reporter struct {
	agg          *Aggregator
	out          io.Writer
	everyNew     int
	everySkipped int
	mu           sync.Mutex
}

// NewReporter builds a reporter. Non-positive thresholds use the defaults.
func NewReporter(agg *Aggregator, out io.Writer, everyNew, everySkipped int) *Reporter {
	if everyNew <= 0 {
		everyNew = DefaultEveryNew
	}
	if everySkipped <= 0 {
		everySkipped = DefaultEverySkipped
	}
	return &Reporter{agg: agg, out: out, everyNew: everyNew, everySkipped: everySkipped}
}

// Observe checks whether applying delta moved after across a threshold and,
// if so, prints the current snapshot. It reports whether it printed.
func (r *Reporter) Observe(after Totals, delta harvest.Delta) bool {
	if !crossed(after.New, delta.New, r.everyNew) && !crossed(after.Skipped, delta.Skipped, r.everySkipped) {
		return false
	}
	snap := r.agg.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out != nil {
		fmt.Fprintln(r.out, Render(snap))
	}
	return true
}

// crossed reports whether the counter passed a multiple of every while
// moving from after-inc to after.
func crossed(after, inc, every int) bool {
	if inc <= 0 || every <= 0 {
		return false
	}
	return (after-inc)/every < after/every
}

// Render formats a progress snapshot for the terminal.
func Render(s Snapshot) string {
	header := titleStyle.Render("Harvest progress") + " " +
		mutedStyle.Render(fmt.Sprintf("elapsed %s", s.Elapsed().Round(time.Second)))

	lines := make([]string, 0, len(s.Workers)+2)
	for _, w := range s.Workers {
		state := inactiveStyle.Render("idle")
		if w.Active(s.TakenAt) {
			state = activeStyle.Render("active")
		}
		lines = append(lines, fmt.Sprintf("%-16s new %-6d skipped %-6d delivered %-6d failed %-4d %s",
			w.Identity, w.New, w.Skipped, w.Delivered, w.DeliveryFailed, state))
	}
	lines = append(lines, "", totalsLine(s.Totals, s.Elapsed()))
	return lipgloss.JoinVertical(lipgloss.Left, header, panelStyle.Render(strings.Join(lines, "\n")))
}

func totalsLine(t Totals, elapsed time.Duration) string {
	line := fmt.Sprintf("total new %d | skipped %d | delivered %d | failed %d",
		t.New, t.Skipped, t.Delivered, t.DeliveryFailed)
	if minutes := elapsed.Minutes(); minutes > 0 {
		line += fmt.Sprintf(" | %.1f new/min", float64(t.New)/minutes)
	}
	return line
}

// RenderSummary formats the final report. outcomes maps identity to the
// reason its worker stopped.
func RenderSummary(s Snapshot, outcomes map[string]string) string {
	header := titleStyle.Render("Harvest finished") + " " +
		mutedStyle.Render(fmt.Sprintf("elapsed %s", s.Elapsed().Round(time.Second)))

	workers := append([]WorkerStats(nil), s.Workers...)
	sort.SliceStable(workers, func(i, j int) bool { return workers[i].New > workers[j].New })

	lines := make([]string, 0, len(workers)+2)
	for _, w := range workers {
		line := fmt.Sprintf("%-16s new %-6d skipped %-6d delivered %-6d failed %-4d",
			w.Identity, w.New, w.Skipped, w.Delivered, w.DeliveryFailed)
		if reason, ok := outcomes[w.Identity]; ok && reason != "" {
			line += " " + mutedStyle.Render(reason)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", totalsLine(s.Totals, s.Elapsed()))
	return lipgloss.JoinVertical(lipgloss.Left, header, panelStyle.Render(strings.Join(lines, "\n")))
}
