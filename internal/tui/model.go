package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/HexSleeves/apiary/internal/hive"
)

const (
	maxFeedLines = 200
	tickInterval = time.Second
)

// Controller receives the operator's control requests.
type Controller interface {
	Grow()
	Shrink()
	Terminate()
}

// Info describes the session shown in the header.
type Info struct {
	SessionID   string
	Frames      int
	MaxFrames   int
	Eggs        int
	LayInterval time.Duration
	TimeScale   float64
}

// EntranceInfo tracks per-entrance activity for display.
type EntranceInfo struct {
	Waiting   int
	Entered   int
	Exited    int
	LastBee   int
	LastKind  hive.Kind
	LastCross time.Time
}

type feedLine struct {
	text string
	kind hive.Kind
}

// Model is the Bubble Tea model for the Apiary TUI.
type Model struct {
	info Info
	ctrl Controller

	// Latest counts, taken from the most recent event
	snap      hive.Snapshot
	lastSeq   uint64
	entrances [hive.Entrances]EntranceInfo
	counts    map[hive.Kind]int
	peak      int
	feed      []feedLine

	// State
	startTime time.Time
	stopping  bool
	done      bool
	status    string
	finalMsg  string
	failed    bool

	// UI state
	width      int
	height     int
	feedScroll int // scroll offset for the feed (from bottom)
	bar        progress.Model
	quitting   bool
}

// New creates a new TUI model.
func New(info Info, ctrl Controller) Model {
	bar := progress.New(
		progress.WithGradient(string(colorGold), string(colorHoney)),
		progress.WithoutPercentage(),
	)
	m := Model{
		info:      info,
		ctrl:      ctrl,
		counts:    make(map[hive.Kind]int),
		startTime: time.Now(),
		bar:       bar,
	}
	m.snap.Frames = info.Frames
	m.snap.Admissible = hive.Admissible(info.Frames)
	for i := range m.entrances {
		m.entrances[i].LastBee = hive.NoBee
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.WindowSize())
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		if m.done {
			// Any key quits after done
			m.quitting = true
			return m, tea.Quit
		}
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.stopping && m.ctrl != nil {
				m.ctrl.Terminate()
			}
			m.stopping = true
		case "+", "=", "g":
			if m.ctrl != nil && !m.stopping {
				m.ctrl.Grow()
			}
		case "-", "_", "s":
			if m.ctrl != nil && !m.stopping {
				m.ctrl.Shrink()
			}
		case "up", "k":
			maxScroll := max(len(m.feed)-m.feedHeight(), 0)
			if m.feedScroll < maxScroll {
				m.feedScroll++
			}
		case "down", "j":
			if m.feedScroll > 0 {
				m.feedScroll--
			}
		case "end", "G":
			m.feedScroll = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tickCmd()

	case EventMsg:
		m.applyEvent(msg.Event)

	case LogMsg:
		m.addFeedLine(msg.Text, "")

	case DoneMsg:
		m.done = true
		m.status = msg.Status
		if msg.Error != "" {
			m.failed = true
			m.finalMsg = msg.Error
			m.addFeedLine("❌ "+msg.Error, hive.KindFailed)
		} else {
			m.finalMsg = msg.Summary
			m.addFeedLine("✅ "+msg.Summary, "")
		}
		m.addFeedLine("Press any key to exit...", "")
		return m, tickCmd()
	}

	return m, nil
}

func (m *Model) applyEvent(e hive.Event) {
	if e.Seq > m.lastSeq {
		m.lastSeq = e.Seq
		m.snap = hive.Snapshot{
			Frames:     e.Frames,
			Admissible: e.Admissible,
			Inside:     e.Inside,
			Alive:      e.Alive,
			Waiting:    e.Waiting,
			Closed:     e.Kind == hive.KindClosed || m.snap.Closed,
		}
		for i := range m.entrances {
			m.entrances[i].Waiting = e.Waiting[i]
		}
	}
	m.peak = max(m.peak, e.Inside)
	m.counts[e.Kind]++

	if e.Entrance >= 0 && e.Entrance < hive.Entrances {
		ent := &m.entrances[e.Entrance]
		switch e.Kind {
		case hive.KindEntered:
			ent.Entered++
		case hive.KindExited:
			ent.Exited++
		}
		ent.LastBee = e.BeeID
		ent.LastKind = e.Kind
		ent.LastCross = e.Time
	}
	if e.Kind == hive.KindResized {
		m.info.Frames = e.Frames
	}

	m.addFeedLine(e.String(), e.Kind)
}

func (m *Model) addFeedLine(text string, kind hive.Kind) {
	m.feed = append(m.feed, feedLine{text: text, kind: kind})
	if len(m.feed) > maxFeedLines {
		m.feed = m.feed[len(m.feed)-maxFeedLines:]
	}
	if m.feedScroll > 0 {
		// keep the view anchored while scrolled back
		m.feedScroll = min(m.feedScroll+1, max(len(m.feed)-m.feedHeight(), 0))
	}
}

// Snapshot returns the counts currently displayed.
func (m Model) Snapshot() hive.Snapshot { return m.snap }

// Count returns how many events of kind have been shown.
func (m Model) Count(kind hive.Kind) int { return m.counts[kind] }

// Done reports whether the run has finished.
func (m Model) Done() bool { return m.done }
