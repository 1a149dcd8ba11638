package tui

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/HexSleeves/apiary/internal/hive"
)

// EventMsg carries one hive transition.
type EventMsg struct {
	Event hive.Event
}

// LogMsg is one component log line with its timestamp stripped.
type LogMsg struct {
	Text string
}

// DoneMsg reports that the colony has been torn down.
type DoneMsg struct {
	Status  string
	Summary string
	Error   string
}

// TickMsg refreshes elapsed times.
type TickMsg struct{}

// Program is the dashboard for one run. It is a hive.Reporter, so it can be
// subscribed to the colony bus directly.
type Program struct {
	prog *tea.Program
}

// NewProgram builds the dashboard. Key presses go to ctrl.
func NewProgram(info Info, ctrl Controller) *Program {
	return &Program{prog: tea.NewProgram(New(info, ctrl), tea.WithAltScreen())}
}

// Run blocks until the user quits.
func (p *Program) Run() (tea.Model, error) { return p.prog.Run() }

func (p *Program) Report(e hive.Event) { p.prog.Send(EventMsg{Event: e}) }

// SendDone tells the dashboard the run is over; the next key press quits.
func (p *Program) SendDone(status, summary, errMsg string) {
	p.prog.Send(DoneMsg{Status: status, Summary: summary, Error: errMsg})
}

// LogWriter returns a writer for log.Logger output. Every complete line
// becomes a LogMsg in the feed.
func (p *Program) LogWriter() io.Writer {
	return &lineWriter{send: func(line string) { p.prog.Send(LogMsg{Text: line}) }}
}

type lineWriter struct {
	mu   sync.Mutex
	send func(string)
	buf  []byte
}

func (w *lineWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, data...)
	for {
		line, rest, ok := bytes.Cut(w.buf, []byte{'\n'})
		if !ok {
			break
		}
		if text := stripLogPrefix(string(line)); text != "" {
			w.send(text)
		}
		w.buf = rest
	}
	return len(data), nil
}

var logStamps = []string{
	"2006/01/02 15:04:05.000000 ",
	"2006/01/02 15:04:05 ",
}

// stripLogPrefix removes an optional "[tag] " and the log.LstdFlags timestamp,
// with or without microseconds.
func stripLogPrefix(line string) string {
	if strings.HasPrefix(line, "[") {
		if _, rest, ok := strings.Cut(line, "] "); ok {
			line = rest
		}
	}
	for _, layout := range logStamps {
		if len(line) < len(layout) {
			continue
		}
		if _, err := time.Parse(layout, line[:len(layout)]); err == nil {
			return strings.TrimSpace(line[len(layout):])
		}
	}
	return strings.TrimSpace(line)
}
