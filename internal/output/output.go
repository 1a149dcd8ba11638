package output

import (
	"fmt"
	"io"
	"os"
)

// Mode is how a run talks to the operator.
type Mode int

const (
	ModeTUI   Mode = iota // interactive dashboard
	ModePlain             // one pterm line per transition
	ModeJSON              // one JSON object per line on stdout
	ModeQuiet             // log file only
)

func (m Mode) String() string {
	switch m {
	case ModeTUI:
		return "tui"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	case ModeQuiet:
		return "quiet"
	}
	return "unknown"
}

// Select picks the output mode from the command line flags. The TUI is only
// used when stdout is a terminal.
func Select(jsonOut, plain, quiet, tty bool) Mode {
	switch {
	case jsonOut:
		return ModeJSON
	case quiet:
		return ModeQuiet
	case plain || !tty:
		return ModePlain
	default:
		return ModeTUI
	}
}

// Manager owns the process streams for one run and routes notices that are
// not hive events to wherever the current mode shows them.
type Manager struct {
	mode   Mode
	stdout io.Writer
	stderr io.Writer
	json   *JSONWriter
}

// NewManager returns a Manager on the process streams.
func NewManager(mode Mode) *Manager {
	return NewManagerWithWriters(mode, os.Stdout, os.Stderr)
}

// NewManagerWithWriters returns a Manager on the given streams.
func NewManagerWithWriters(mode Mode, stdout, stderr io.Writer) *Manager {
	return &Manager{mode: mode, stdout: stdout, stderr: stderr}
}

func (m *Manager) Mode() Mode { return m.mode }

func (m *Manager) Stdout() io.Writer { return m.stdout }

// SetJSONWriter attaches the session's JSON stream. Warnings raised before it
// is attached are written to stderr.
func (m *Manager) SetJSONWriter(jw *JSONWriter) { m.json = jw }

// Warn reports a non-fatal condition such as a clamped parameter. The TUI
// and quiet modes leave it to the log file.
func (m *Manager) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch m.mode {
	case ModeJSON:
		if m.json != nil {
			m.json.WriteWarning(msg) //nolint:errcheck
			return
		}
		fmt.Fprintf(m.stderr, "⚠ %s\n", msg)
	case ModePlain:
		fmt.Fprintf(m.stderr, "⚠ %s\n", msg)
	}
}
