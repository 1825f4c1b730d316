package stream

import (
	"encoding/json"
	"time"
)

// LogEntry is one stream record. Entries are immutable once appended and
// consumed at least once per consumer group.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Service   string            `json:"service"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata"`
}

// NewLogEntry builds a log entry stamped with the current time
func NewLogEntry(service, level, message string) *LogEntry {
	return &LogEntry{
		Timestamp: time.Now(),
		Service:   service,
		Level:     level,
		Message:   message,
	}
}

// Fields flattens the entry into the string map stored in the stream.
// Metadata is JSON-encoded into a single field.
func (e *LogEntry) Fields() map[string]interface{} {
	metadata := "{}"
	if len(e.Metadata) > 0 {
		if data, err := json.Marshal(e.Metadata); err == nil {
			metadata = string(data)
		}
	}

	return map[string]interface{}{
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"service":   e.Service,
		"level":     e.Level,
		"message":   e.Message,
		"source":    e.Source,
		"metadata":  metadata,
	}
}

// EntryFromFields decodes a stream record back into a log entry. Missing
// service and level fields are defaulted so downstream handlers can rely
// on them being non-empty.
func EntryFromFields(fields map[string]interface{}) *LogEntry {
	entry := &LogEntry{
		Service: stringField(fields, "service", "unknown"),
		Level:   stringField(fields, "level", "info"),
		Message: stringField(fields, "message", ""),
		Source:  stringField(fields, "source", ""),
	}

	if raw := stringField(fields, "timestamp", ""); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			entry.Timestamp = ts
		}
	}

	if raw := stringField(fields, "metadata", ""); raw != "" {
		var metadata map[string]string
		if err := json.Unmarshal([]byte(raw), &metadata); err == nil && len(metadata) > 0 {
			entry.Metadata = metadata
		}
	}

	return entry
}

func stringField(fields map[string]interface{}, key, fallback string) string {
	if v, ok := fields[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
