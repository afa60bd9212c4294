package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeEncrypt represents an encryption session.
	EventTypeEncrypt EventType = "encrypt"
	// EventTypeDecrypt represents a decryption session.
	EventTypeDecrypt EventType = "decrypt"
	// EventTypeCleanup represents the removal of a storage location.
	EventTypeCleanup EventType = "cleanup"
)

// AuditEvent represents a single audit log event. Key material is never
// part of an event.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  EventType              `json:"event_type"`
	Location   string                 `json:"location,omitempty"`
	Source     string                 `json:"source,omitempty"`
	Algorithm  string                 `json:"algorithm,omitempty"`
	Chunks     int                    `json:"chunks"`
	Bytes      int64                  `json:"bytes"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Session describes a finished encrypt, decrypt or cleanup session.
type Session struct {
	Location  string
	Source    string
	Algorithm string
	Chunks    int
	Bytes     int64
	Err       error
	Duration  time.Duration
	Metadata  map[string]interface{}
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogEncrypt logs an encryption session.
	LogEncrypt(s Session)

	// LogDecrypt logs a decryption session.
	LogDecrypt(s Session)

	// LogCleanup logs the deletion of a location's objects.
	LogCleanup(s Session)

	// GetEvents returns the retained events, oldest first.
	GetEvents() []*AuditEvent
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu        sync.Mutex
	events    []*AuditEvent
	maxEvents int
	writer    EventWriter
}

// NewLogger creates a new audit logger retaining at most maxEvents events
// in memory. A nil writer writes JSON lines to stdout.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	if writer == nil {
		writer = NewJSONWriter(os.Stdout)
	}
	if maxEvents < 1 {
		maxEvents = 1
	}

	return &auditLogger{
		events:    make([]*AuditEvent, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

// Log logs an audit event. The event is retained even when the writer
// fails; the write error is returned.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var werr error
	if l.writer != nil {
		if err := l.writer.WriteEvent(event); err != nil {
			werr = fmt.Errorf("failed to write audit event: %w", err)
		}
	}

	l.events = append(l.events, event)

	// Maintain max events limit
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	return werr
}

func (l *auditLogger) logSession(eventType EventType, s Session) {
	event := &AuditEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		Location:   s.Location,
		Source:     s.Source,
		Algorithm:  s.Algorithm,
		Chunks:     s.Chunks,
		Bytes:      s.Bytes,
		Success:    s.Err == nil,
		DurationMS: s.Duration.Milliseconds(),
		Metadata:   s.Metadata,
	}
	if s.Err != nil {
		event.Error = s.Err.Error()
	}

	_ = l.Log(event)
}

// LogEncrypt logs an encryption session.
func (l *auditLogger) LogEncrypt(s Session) {
	l.logSession(EventTypeEncrypt, s)
}

// LogDecrypt logs a decryption session.
func (l *auditLogger) LogDecrypt(s Session) {
	l.logSession(EventTypeDecrypt, s)
}

// LogCleanup logs the deletion of a location.
func (l *auditLogger) LogCleanup(s Session) {
	l.logSession(EventTypeCleanup, s)
}

// GetEvents returns all audit events (for testing/querying).
func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Return a copy to prevent external modifications
	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// jsonWriter writes one JSON object per line.
type jsonWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONWriter returns an EventWriter emitting JSON lines to w.
func NewJSONWriter(w io.Writer) EventWriter {
	return &jsonWriter{enc: json.NewEncoder(w)}
}

func (w *jsonWriter) WriteEvent(event *AuditEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return nil
}

// FileWriter appends JSON-line events to a file.
type FileWriter struct {
	EventWriter
	f *os.File
}

// NewFileWriter opens path for appending, creating it with mode 0600.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileWriter{EventWriter: NewJSONWriter(f), f: f}, nil
}

// Close closes the underlying file.
func (w *FileWriter) Close() error {
	return w.f.Close()
}
