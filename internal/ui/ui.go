// Package ui renders tsync's terminal output.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/mschirtzinger/tasksync/internal/notify"
)

// Theme defines the palette.
type Theme struct {
	Text    string
	Muted   string
	Accent  string
	Success string
	Warning string
	Danger  string
	Info    string
}

// DefaultTheme returns the default palette.
func DefaultTheme() Theme {
	return Theme{
		Text:    "#d8dee9",
		Muted:   "#7b8496",
		Accent:  "#88c0d0",
		Success: "#a3be8c",
		Warning: "#ebcb8b",
		Danger:  "#bf616a",
		Info:    "#81a1c1",
	}
}

// Styles holds the lipgloss styles derived from a Theme.
type Styles struct {
	Title   lipgloss.Style
	Text    lipgloss.Style
	Muted   lipgloss.Style
	Accent  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Danger  lipgloss.Style
	Info    lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
}

// Renderer writes styled output to one destination.
type Renderer struct {
	out    io.Writer
	r      *lipgloss.Renderer
	styles Styles
	now    func() time.Time
}

// NewRenderer creates a renderer for out. Colors are dropped when out is
// not a terminal.
func NewRenderer(out io.Writer) *Renderer {
	r := lipgloss.NewRenderer(out)
	r.SetColorProfile(Profile(out))
	return &Renderer{
		out:    out,
		r:      r,
		styles: newStyles(r, DefaultTheme()),
		now:    time.Now,
	}
}

// Profile returns the color profile for out: the environment's profile on
// a terminal, plain ASCII otherwise.
func Profile(out io.Writer) termenv.Profile {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

// IsInteractive reports whether stdin and stdout are both terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func newStyles(r *lipgloss.Renderer, t Theme) Styles {
	return Styles{
		Title:   r.NewStyle().Foreground(lipgloss.Color(t.Accent)).Bold(true),
		Text:    r.NewStyle().Foreground(lipgloss.Color(t.Text)),
		Muted:   r.NewStyle().Foreground(lipgloss.Color(t.Muted)),
		Accent:  r.NewStyle().Foreground(lipgloss.Color(t.Accent)),
		Success: r.NewStyle().Foreground(lipgloss.Color(t.Success)).Bold(true),
		Warning: r.NewStyle().Foreground(lipgloss.Color(t.Warning)),
		Danger:  r.NewStyle().Foreground(lipgloss.Color(t.Danger)).Bold(true),
		Info:    r.NewStyle().Foreground(lipgloss.Color(t.Info)),
		Header:  r.NewStyle().Foreground(lipgloss.Color(t.Accent)).Bold(true).Padding(0, 1),
		Cell:    r.NewStyle().Padding(0, 1),
	}
}

// Styles returns the renderer's styles.
func (r *Renderer) Styles() Styles {
	return r.styles
}

// Println writes a line.
func (r *Renderer) Println(a ...any) {
	fmt.Fprintln(r.out, a...)
}

// Title writes a heading.
func (r *Renderer) Title(s string) {
	fmt.Fprintln(r.out, r.styles.Title.Render(s))
}

// Field writes an aligned "label: value" line.
func (r *Renderer) Field(label, value string) {
	fmt.Fprintf(r.out, "  %s %s\n", r.styles.Muted.Render(fmt.Sprintf("%-14s", label+":")), value)
}

// Table writes rows under headers. An empty table prints the empty text.
func (r *Renderer) Table(headers []string, rows [][]string, empty string) {
	if len(rows) == 0 {
		fmt.Fprintln(r.out, r.styles.Muted.Render(empty))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.styles.Muted).
		BorderColumn(false).
		BorderLeft(false).
		BorderRight(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.styles.Header
			}
			return r.styles.Cell
		})
	fmt.Fprintln(r.out, t.Render())
}

// State colors a connection or sync state word.
func (r *Renderer) State(state string) string {
	switch state {
	case "connected", "online", "synced", "done":
		return r.styles.Success.Render(state)
	case "connecting", "disconnected", "in_progress", "queued":
		return r.styles.Warning.Render(state)
	case "offline-mode", "offline", "closed", "blocked", "failed":
		return r.styles.Danger.Render(state)
	default:
		return r.styles.Text.Render(state)
	}
}

// Since renders a timestamp relative to now, e.g. "3 minutes ago".
func (r *Renderer) Since(t time.Time) string {
	if t.IsZero() {
		return r.styles.Muted.Render("never")
	}
	return humanize.RelTime(t, r.now(), "ago", "from now")
}

// Count renders n with thousands separators.
func Count(n int) string {
	return humanize.Comma(int64(n))
}

// Bytes renders a size, e.g. "1.2 MB".
func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// Truncate shortens s to width runes with an ellipsis.
func Truncate(s string, width int) string {
	runes := []rune(strings.TrimSpace(s))
	if width <= 1 || len(runes) <= width {
		return string(runes)
	}
	return string(runes[:width-1]) + "…"
}

// Notifier prints notifications as styled lines.
type Notifier struct {
	r  *Renderer
	mu sync.Mutex
}

// NewNotifier creates a notifier writing through r.
func NewNotifier(r *Renderer) *Notifier {
	return &Notifier{r: r}
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(note notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := n.r.styles
	var badge string
	switch note.Level {
	case notify.LevelSuccess:
		badge = s.Success.Render("✓")
	case notify.LevelWarning:
		badge = s.Warning.Render("!")
	case notify.LevelError:
		badge = s.Danger.Render("✗")
	default:
		badge = s.Info.Render("•")
	}

	line := badge + " " + s.Text.Render(note.Title)
	if note.Message != "" {
		line += s.Muted.Render(": " + note.Message)
	}
	fmt.Fprintln(n.r.out, line)
}
