package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"

	"github.com/HexSleeves/apiary/internal/hive"
)

// Printer renders plain-mode output with pterm. In every other mode it prints
// nothing, so callers never need to check the mode themselves.
type Printer struct {
	mode    Mode
	verbose bool
	w       io.Writer
}

// NewPrinter returns a Printer on stdout.
func NewPrinter(mode Mode, verbose bool) *Printer {
	return NewPrinterTo(os.Stdout, mode, verbose)
}

// NewPrinterTo returns a Printer on w.
func NewPrinterTo(w io.Writer, mode Mode, verbose bool) *Printer {
	return &Printer{mode: mode, verbose: verbose, w: w}
}

func (p *Printer) active() bool { return p.mode == ModePlain }

func (p *Printer) prefixed(pp pterm.PrefixPrinter, format string, args []any) {
	if !p.active() {
		return
	}
	pp.WithWriter(p.w).Printfln(format, args...)
}

func (p *Printer) Header(text string) {
	if !p.active() {
		return
	}
	pterm.DefaultHeader.
		WithWriter(p.w).
		WithBackgroundStyle(pterm.NewStyle(pterm.BgYellow)).
		WithTextStyle(pterm.NewStyle(pterm.FgBlack, pterm.Bold)).
		Println(text)
}

func (p *Printer) Section(text string) {
	if !p.active() {
		return
	}
	pterm.DefaultSection.WithWriter(p.w).Println(text)
}

func (p *Printer) Info(format string, args ...any) { p.prefixed(pterm.Info, format, args) }
func (p *Printer) Success(format string, args ...any) { p.prefixed(pterm.Success, format, args) }
func (p *Printer) Warning(format string, args ...any) { p.prefixed(pterm.Warning, format, args) }
func (p *Printer) Error(format string, args ...any) { p.prefixed(pterm.Error, format, args) }

// Debug only prints when verbose.
func (p *Printer) Debug(format string, args ...any) {
	if !p.verbose {
		return
	}
	p.prefixed(pterm.PrefixPrinter{
		Prefix: pterm.Prefix{Text: " DEBUG ", Style: pterm.NewStyle(pterm.BgGray, pterm.FgWhite)},
	}, format, args)
}

// Table prints rows under a header line.
func (p *Printer) Table(headers []string, rows [][]string) {
	if !p.active() {
		return
	}
	pterm.DefaultTable.
		WithWriter(p.w).
		WithHasHeader().
		WithData(append(pterm.TableData{headers}, rows...)).
		Render() //nolint:errcheck
}

// KeyValue prints aligned "key: value" lines. Pairs without exactly two
// elements are skipped.
func (p *Printer) KeyValue(pairs [][]string) {
	if !p.active() {
		return
	}
	width := 0
	for _, kv := range pairs {
		if len(kv) == 2 {
			width = max(width, len(kv[0])+1)
		}
	}
	for _, kv := range pairs {
		if len(kv) != 2 {
			continue
		}
		fmt.Fprintf(p.w, "  %s  %s\n", pterm.LightCyan(fmt.Sprintf("%-*s", width, kv[0]+":")), kv[1])
	}
}

func (p *Printer) Printf(format string, args ...any) {
	if !p.active() {
		return
	}
	fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) Divider() {
	if !p.active() {
		return
	}
	fmt.Fprintln(p.w, pterm.Gray(strings.Repeat("─", 50)))
}

// Occupancy prints the counts of s with a bar of the admissible places.
func (p *Printer) Occupancy(s hive.Snapshot) {
	p.KeyValue([][]string{
		{"Frames", fmt.Sprintf("N=%d P=%d", s.Frames, s.Admissible)},
		{"Inside", fmt.Sprintf("%s %d/%d", occupancyBar(s.Inside, s.Admissible, 20), s.Inside, s.Admissible)},
		{"Alive", fmt.Sprintf("%d", s.Alive)},
		{"Waiting", fmt.Sprintf("%d / %d", s.Waiting[0], s.Waiting[1])},
	})
}

func occupancyBar(inside, admissible, width int) string {
	filled := 0
	if admissible > 0 {
		filled = min(width, inside*width/admissible)
	}
	return pterm.Yellow(strings.Repeat("█", filled)) + pterm.Gray(strings.Repeat("░", width-filled))
}

// StatusIcon returns a colored icon for a session status.
func StatusIcon(status string) string {
	switch status {
	case "done":
		return pterm.Green("✔")
	case "running":
		return pterm.Cyan("●")
	case "interrupted":
		return pterm.Yellow("⊘")
	case "failed":
		return pterm.Red("✖")
	default:
		return pterm.Gray("?")
	}
}

// KindIcon returns a colored icon for a hive event kind.
func KindIcon(kind hive.Kind) string {
	switch kind {
	case hive.KindEntered:
		return pterm.Green("→")
	case hive.KindExited:
		return pterm.Cyan("←")
	case hive.KindWaiting:
		return pterm.Yellow("⏳")
	case hive.KindDied:
		return pterm.Gray("✝")
	case hive.KindFailed:
		return pterm.Red("✖")
	case hive.KindLaid:
		return pterm.LightMagenta("🥚")
	case hive.KindSkipped, hive.KindDegenerate:
		return pterm.Yellow("⚠")
	case hive.KindResized:
		return pterm.LightBlue("↕")
	case hive.KindClosed:
		return pterm.Red("■")
	default:
		return pterm.Gray("·")
	}
}

// Event prints one hive transition. Warnings use the warning prefix; waits
// and reaps are only shown when verbose.
func (p *Printer) Event(e hive.Event) {
	if !p.active() {
		return
	}
	switch {
	case e.Warning():
		p.Warning("%s", e)
	case e.Kind == hive.KindWaiting || e.Kind == hive.KindReaped:
		p.Debug("%s", e)
	default:
		fmt.Fprintf(p.w, "%s %s %s\n", pterm.Gray(e.Time.Format("15:04:05.000")), KindIcon(e.Kind), e)
	}
}
