package httpapi

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// AuditEntry records one action submitted over HTTP.
type AuditEntry struct {
	Time    time.Time `json:"time"`
	Actor   string    `json:"actor"`
	Verb    string    `json:"verb"`
	Result  string    `json:"result"`
	TraceID string    `json:"trace_id,omitempty"`
}

// AuditLog keeps the most recent actions submitted over HTTP, optionally
// mirroring them to a sink.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
	sink    AuditSink
}

// AuditSink persists audit entries.
type AuditSink interface {
	Write(entry AuditEntry) error
}

// NewAuditLog keeps up to max entries in memory.
func NewAuditLog(max int, sink AuditSink) *AuditLog {
	if max <= 0 {
		max = 200
	}
	return &AuditLog{max: max, sink: sink}
}

func (l *AuditLog) add(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		_ = l.sink.Write(entry)
	}
}

func (l *AuditLog) list() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *AuditLog) listLimit(limit int) []AuditEntry {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.list()
	if len(all) <= limit {
		return all
	}
	return all[len(all)-limit:]
}

// FileAuditSink appends audit entries as JSONL.
type FileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAuditSink opens path for appending. An empty path disables the sink.
func NewFileAuditSink(path string) (*FileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileAuditSink{file: f}, nil
}

func (s *FileAuditSink) Write(entry AuditEntry) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// Close closes the underlying file.
func (s *FileAuditSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}
