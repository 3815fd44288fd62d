package queue

import (
	"encoding/json"
	"fmt"
	"maps"

	"streamq/queue/stream"
)

// Envelope is the handler-facing view of a stream entry.
type Envelope struct {
	StreamKey string            `json:"stream_key"`
	EntryID   string            `json:"entry_id"`
	Fields    map[string]string `json:"fields"`
}

// NewEnvelope copies the entry's fields so handlers can't alter what the
// dead-letter router later records.
func NewEnvelope(streamKey string, entry stream.Entry) Envelope {
	fields := maps.Clone(entry.Fields)
	if fields == nil {
		fields = map[string]string{}
	}
	return Envelope{
		StreamKey: streamKey,
		EntryID:   entry.ID,
		Fields:    fields,
	}
}

func (e Envelope) Get(field string) string {
	return e.Fields[field]
}

// Unmarshal decodes a JSON-encoded field into v.
func (e Envelope) Unmarshal(field string, v any) error {
	raw, ok := e.Fields[field]
	if !ok {
		return fmt.Errorf("field %q not present in entry %s", field, e.EntryID)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode field %q: %w", field, err)
	}
	return nil
}
