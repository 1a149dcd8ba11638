package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/HexSleeves/apiary/internal/hive"
)

const topPanelHeight = 6

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	w := m.width
	if w < 40 {
		w = 80 // sensible default before WindowSizeMsg
	}

	leftW := w/2 - 2
	rightW := w - leftW - 4
	top := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderHivePanel(leftW),
		m.renderEntrancePanel(rightW),
	)
	feed := m.renderFeedPanel(w-2, m.feedHeight())
	sbar := m.renderStatusBar(w)

	return top + "\n" + feed + "\n" + sbar
}

// feedHeight is the number of feed lines that fit below the top panels.
func (m Model) feedHeight() int {
	h := m.height
	if h < 10 {
		h = 24
	}
	// top panels with borders, feed title and border, status bar
	return max(h-(topPanelHeight+2)-3-1, 3)
}

func (m Model) renderHivePanel(w int) string {
	title := titleStyle.Render("🍯 Hive")
	if m.info.SessionID != "" {
		id := m.info.SessionID
		if len(id) > 8 {
			id = id[:8]
		}
		title += subtleStyle.Render("  " + id)
	}

	s := m.snap
	var ratio float64
	if s.Admissible > 0 {
		ratio = min(float64(s.Inside)/float64(s.Admissible), 1)
	}
	bar := m.bar
	bar.Width = max(w-14, 10)
	occupancy := bar.ViewAs(ratio) + " " + valueStyle.Render(fmt.Sprintf("%d/%d", s.Inside, max(s.Admissible, 0)))

	capacity := fmt.Sprintf("%s %s  %s %s  %s %s",
		subtleStyle.Render("N"), valueStyle.Render(fmt.Sprint(s.Frames)),
		subtleStyle.Render("P"), valueStyle.Render(fmt.Sprint(s.Admissible)),
		subtleStyle.Render("max"), valueStyle.Render(fmt.Sprint(m.info.MaxFrames)),
	)
	if s.Admissible <= 0 {
		capacity += "  " + errorStyle.Render("no entries possible")
	}

	population := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		subtleStyle.Render("alive"), valueStyle.Render(fmt.Sprint(s.Alive)),
		subtleStyle.Render("laid"), valueStyle.Render(fmt.Sprint(m.counts[hive.KindLaid])),
		subtleStyle.Render("died"), valueStyle.Render(fmt.Sprint(m.counts[hive.KindDied]+m.counts[hive.KindFailed])),
		subtleStyle.Render("peak"), valueStyle.Render(fmt.Sprint(m.peak)),
	)

	queen := subtleStyle.Render(truncate(fmt.Sprintf("queen: %d eggs every %s, %d skipped",
		m.info.Eggs, m.info.LayInterval, m.counts[hive.KindSkipped]), w-2))

	content := strings.Join([]string{title, occupancy, capacity, population, queen}, "\n")
	return hiveBorder.Width(w).Height(topPanelHeight).Render(content)
}

func (m Model) renderEntrancePanel(w int) string {
	lines := []string{titleStyle.Render("🚪 Entrances")}
	for i, ent := range m.entrances {
		last := subtleStyle.Render("idle")
		if ent.LastBee != hive.NoBee {
			verb := "in"
			if ent.LastKind == hive.KindExited {
				verb = "out"
			}
			last = kindStyle(ent.LastKind).Render(fmt.Sprintf("bee %d %s", ent.LastBee, verb))
			if !ent.LastCross.IsZero() {
				last += subtleStyle.Render(" " + formatAgo(time.Since(ent.LastCross)))
			}
		}
		lines = append(lines,
			fmt.Sprintf("%s %s  %s", valueStyle.Render(fmt.Sprintf("#%d", i)),
				queueGauge(ent.Waiting, max(w-24, 4)), last),
			subtleStyle.Render(fmt.Sprintf("   waiting %d · in %d · out %d", ent.Waiting, ent.Entered, ent.Exited)),
		)
	}
	return entranceBorder.Width(w).Height(topPanelHeight).Render(strings.Join(lines, "\n"))
}

// queueGauge draws one bee per waiting bee, capped at width.
func queueGauge(waiting, width int) string {
	if waiting <= 0 {
		return subtleStyle.Render("·")
	}
	n := min(waiting, width/2)
	g := strings.Repeat("🐝", n)
	if n < waiting {
		g += subtleStyle.Render(fmt.Sprintf("+%d", waiting-n))
	}
	return g
}

func (m Model) renderFeedPanel(w, h int) string {
	title := titleStyle.Render("📜 Events")

	totalLines := len(m.feed)
	visibleH := max(h, 1)
	if m.feedScroll > 0 {
		title += subtleStyle.Render(fmt.Sprintf("  [↓%d newer]", m.feedScroll))
	}

	end := min(max(totalLines-m.feedScroll, 0), totalLines)
	start := max(end-visibleH, 0)

	var rendered []string
	for _, line := range m.feed[start:end] {
		for _, wl := range wrapText(line.text, w-2) {
			if line.kind == "" {
				rendered = append(rendered, subtleStyle.Render(wl))
			} else {
				rendered = append(rendered, kindStyle(line.kind).Render(wl))
			}
		}
	}

	// Trim to fit and pad
	if len(rendered) > visibleH {
		rendered = rendered[len(rendered)-visibleH:]
	}
	for len(rendered) < visibleH {
		rendered = append(rendered, "")
	}

	return feedBorder.Width(w).Render(title + "\n" + strings.Join(rendered, "\n"))
}

func (m Model) renderStatusBar(w int) string {
	elapsed := time.Since(m.startTime).Round(time.Second)

	var left string
	switch {
	case m.done && m.failed:
		left = "🐝 " + errorStyle.Render("✗ "+m.status)
		left += subtleStyle.Render("  press any key to exit")
	case m.done:
		left = "🐝 " + successStyle.Render("✓ "+m.status)
		left += subtleStyle.Render("  press any key to exit")
	case m.stopping:
		left = "🐝 " + errorStyle.Render("stopping...")
	default:
		left = "🐝 Apiary"
	}

	var centre string
	if !m.done && !m.stopping {
		centre = "+:grow  -:shrink  q:quit  ↑↓:scroll"
	}
	right := fmt.Sprintf("%d events · %s", m.lastSeq, elapsed)

	leftW := lipgloss.Width(left)
	centreW := lipgloss.Width(centre)
	rightW := lipgloss.Width(right)
	spare := max(w-leftW-centreW-rightW-2, 2)
	var gap1, gap2 int
	if centreW > 0 {
		gap1 = max(spare/2, 1)
		gap2 = max(spare-gap1, 1)
	} else {
		gap1 = spare
	}

	statusLine := left + strings.Repeat(" ", gap1)
	if centreW > 0 {
		statusLine += subtleStyle.Render(centre) + strings.Repeat(" ", gap2)
	}
	statusLine += subtleStyle.Render(right)
	return statusBar.Width(w - 2).Render(statusLine)
}

func formatAgo(d time.Duration) string {
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	default:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
}

// truncate cuts s to maxWidth display columns.
func truncate(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "…")
}

func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		maxWidth = 80
	}
	if len(text) == 0 {
		return []string{""}
	}
	if runewidth.StringWidth(text) <= maxWidth {
		return []string{text}
	}

	var lines []string
	for runewidth.StringWidth(text) > maxWidth {
		// Find the byte offset that fits within maxWidth display columns
		colW := 0
		byteOff := 0
		for i, r := range text {
			rw := runewidth.RuneWidth(r)
			if colW+rw > maxWidth {
				break
			}
			colW += rw
			byteOff = i + len(string(r))
		}
		if byteOff == 0 {
			// single character wider than maxWidth
			byteOff = len(string([]rune(text)[0]))
		}
		// Try to break on a space within the last third
		cut := byteOff
		if idx := strings.LastIndex(text[:byteOff], " "); idx > byteOff/3 {
			cut = idx
		}
		lines = append(lines, text[:cut])
		text = strings.TrimLeft(text[cut:], " ")
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}
