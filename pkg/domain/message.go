package domain

import (
	"encoding/json"
	"time"
)

// Message is a single published entry on a topic. It is immutable once
// published; the bus never interprets the payload.
type Message struct {
	Topic     string          `json:"topic"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  uint64          `json:"sequence"`
}

// LogEntry is the shape returned by the HTTP polling fallback. It mirrors the
// {topic, source, data} entries the dashboard polls for.
type LogEntry struct {
	Topic  string          `json:"topic"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// ToLogEntry converts a message to its polling representation.
func (m Message) ToLogEntry() LogEntry {
	return LogEntry{
		Topic:  m.Topic,
		Source: m.Source,
		Data:   m.Payload,
	}
}
