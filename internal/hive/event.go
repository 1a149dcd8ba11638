package hive

import (
	"fmt"
	"time"
)

// Kind names a hive transition.
type Kind string

const (
	KindSeeded     Kind = "hive.seeded"
	KindEntered    Kind = "bee.entered"
	KindExited     Kind = "bee.exited"
	KindWaiting    Kind = "bee.waiting"
	KindDied       Kind = "bee.died"
	KindFailed     Kind = "bee.failed"
	KindLaid       Kind = "queen.laid"
	KindSkipped    Kind = "queen.skipped"
	KindReaped     Kind = "queen.reaped"
	KindResized    Kind = "hive.resized"
	KindDegenerate Kind = "hive.degenerate"
	KindClosed     Kind = "hive.closed"
)

// NoBee and NoEntrance mark events that are not about a particular bee or entrance.
const (
	NoBee      = -1
	NoEntrance = -1
)

// Event is one reported transition together with the hive counts that
// resulted from it. Seq is assigned under the hive lock, so ordering by Seq
// gives the order in which transitions were committed.
type Event struct {
	Seq        uint64    `json:"seq"`
	Kind       Kind      `json:"kind"`
	BeeID      int       `json:"bee_id"`
	Entrance   int       `json:"entrance"`
	Frames     int       `json:"frames"`
	Admissible int       `json:"admissible"`
	Inside     int       `json:"inside"`
	Alive      int       `json:"alive"`
	Waiting    [2]int    `json:"waiting"`
	Detail     string    `json:"detail,omitempty"`
	Time       time.Time `json:"time"`
}

// Warning reports whether the event describes a condition an operator should notice.
func (e Event) Warning() bool {
	switch e.Kind {
	case KindSkipped, KindDegenerate, KindFailed:
		return true
	}
	return false
}

func (e Event) String() string {
	counts := fmt.Sprintf("inside %d/%d, alive %d", e.Inside, e.Admissible, e.Alive)
	switch e.Kind {
	case KindEntered:
		return fmt.Sprintf("🐝 Bee %d entered through entrance %d (%s)", e.BeeID, e.Entrance, counts)
	case KindExited:
		return fmt.Sprintf("🐝 Bee %d left through entrance %d (%s)", e.BeeID, e.Entrance, counts)
	case KindWaiting:
		return fmt.Sprintf("⏳ Bee %d waits at entrance %d, hive full (%s)", e.BeeID, e.Entrance, counts)
	case KindDied:
		return fmt.Sprintf("💀 Bee %d died (%s)", e.BeeID, counts)
	case KindFailed:
		return fmt.Sprintf("❌ Bee %d failed: %s (%s)", e.BeeID, e.Detail, counts)
	case KindLaid:
		return fmt.Sprintf("👑 Queen laid %s (%s)", e.Detail, counts)
	case KindSkipped:
		return fmt.Sprintf("⚠ Queen skipped laying: %s (%s)", e.Detail, counts)
	case KindReaped:
		return fmt.Sprintf("👑 Queen reaped %s", e.Detail)
	case KindResized:
		return fmt.Sprintf("🧰 Beekeeper %s: N=%d (%s)", e.Detail, e.Frames, counts)
	case KindDegenerate:
		return fmt.Sprintf("⚠ Hive admits nobody: %s (N=%d)", e.Detail, e.Frames)
	case KindSeeded:
		return fmt.Sprintf("🏠 Hive seeded: N=%d, %s", e.Frames, counts)
	case KindClosed:
		return fmt.Sprintf("🛑 Hive closed (%s)", counts)
	}
	return fmt.Sprintf("%s bee=%d entrance=%d %s (%s)", e.Kind, e.BeeID, e.Entrance, e.Detail, counts)
}

// Reporter receives every committed transition. Report is called after the
// hive lock has been released and may block only briefly.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to a Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

type nopReporter struct{}

func (nopReporter) Report(Event) {}
