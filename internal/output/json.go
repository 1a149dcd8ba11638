package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/HexSleeves/apiary/internal/hive"
)

// EventType represents the type of JSON output event.
type EventType string

const (
	// EventSessionStart marks the beginning of a session.
	EventSessionStart EventType = "session_start"
	// EventSessionEnd marks the end of a session with final results.
	EventSessionEnd EventType = "session_end"
	// EventHive wraps one hive transition.
	EventHive EventType = "hive_event"
	// EventError is emitted when an error occurs.
	EventError EventType = "error"
	// EventWarning carries a non-fatal notice such as a clamped parameter.
	EventWarning EventType = "warning"
)

// SessionParams are the startup parameters of a run.
type SessionParams struct {
	Frames      int           `json:"frames"`
	MaxFrames   int           `json:"max_frames"`
	LayInterval time.Duration `json:"lay_interval_ns"`
	Eggs        int           `json:"eggs"`
	MaxVisits   int           `json:"max_visits"`
	TimeScale   float64       `json:"time_scale"`
	Seed        int64         `json:"seed,omitempty"`
}

// SessionSummary represents the final session summary.
type SessionSummary struct {
	SessionID string            `json:"session_id"`
	Status    string            `json:"status"`
	Final     hive.Snapshot     `json:"final"`
	Events    uint64            `json:"events"`
	Counts    map[hive.Kind]int `json:"counts"`
	Laid      int               `json:"laid"`
	Duration  time.Duration     `json:"duration_ns"`
}

// ErrorEvent represents an error that occurred.
type ErrorEvent struct {
	Message   string `json:"message"`
	BeeID     *int   `json:"bee_id,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// JSONEvent is the wrapper for all JSON output events.
type JSONEvent struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Params    *SessionParams  `json:"params,omitempty"`
	Event     *hive.Event     `json:"event,omitempty"`
	Session   *SessionSummary `json:"session,omitempty"`
	Error     *ErrorEvent     `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// JSONWriter writes one JSON object per line. It implements hive.Reporter.
type JSONWriter struct {
	mu        sync.Mutex
	w         io.Writer
	sessionID string
	startTime time.Time
	counts    map[hive.Kind]int
	written   uint64
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, sessionID string) *JSONWriter {
	return &JSONWriter{
		w:         w,
		sessionID: sessionID,
		startTime: time.Now(),
		counts:    make(map[hive.Kind]int),
	}
}

// writeEvent writes a single JSON event as a line.
func (jw *JSONWriter) writeEvent(event JSONEvent) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	event.Timestamp = time.Now()
	if jw.sessionID != "" {
		event.SessionID = jw.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(jw.w, string(data))
	return err
}

// WriteSessionStart emits a session start event.
func (jw *JSONWriter) WriteSessionStart(params SessionParams) error {
	return jw.writeEvent(JSONEvent{Type: EventSessionStart, Params: &params})
}

// WriteSessionEnd emits the final session summary.
func (jw *JSONWriter) WriteSessionEnd(summary SessionSummary) error {
	jw.mu.Lock()
	summary.SessionID = jw.sessionID
	summary.Duration = time.Since(jw.startTime)
	summary.Events = jw.written
	summary.Counts = make(map[hive.Kind]int, len(jw.counts))
	for k, n := range jw.counts {
		summary.Counts[k] = n
	}
	jw.mu.Unlock()

	return jw.writeEvent(JSONEvent{Type: EventSessionEnd, Session: &summary})
}

// Report writes a hive event line.
func (jw *JSONWriter) Report(e hive.Event) {
	jw.mu.Lock()
	jw.counts[e.Kind]++
	jw.written++
	jw.mu.Unlock()
	_ = jw.writeEvent(JSONEvent{Type: EventHive, Event: &e})
}

// WriteError emits an error event. beeID < 0 means the error is not about a bee.
func (jw *JSONWriter) WriteError(message string, beeID int, errorType string) error {
	ev := &ErrorEvent{Message: message, ErrorType: errorType}
	if beeID >= 0 {
		ev.BeeID = &beeID
	}
	return jw.writeEvent(JSONEvent{Type: EventError, Error: ev})
}

// WriteWarning emits a warning event.
func (jw *JSONWriter) WriteWarning(message string) error {
	return jw.writeEvent(JSONEvent{Type: EventWarning, Message: message})
}

// Counts returns how many events of each kind have been written.
func (jw *JSONWriter) Counts() map[hive.Kind]int {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	result := make(map[hive.Kind]int, len(jw.counts))
	for k, n := range jw.counts {
		result[k] = n
	}
	return result
}

// SetSessionID sets the session ID (used when session is created after writer).
func (jw *JSONWriter) SetSessionID(sessionID string) {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.sessionID = sessionID
}
