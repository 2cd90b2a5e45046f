package hec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tinytelemetry/hecforward/internal/model"
)

// Envelope is one HEC event as it goes over the wire.
// Time is epoch seconds as a string; empty means "when it was enqueued".
// Host is filled with the forwarder identity when empty.
type Envelope struct {
	Time       string            `json:"time"`
	Host       string            `json:"host"`
	Index      string            `json:"index"`
	Sourcetype string            `json:"sourcetype"`
	Source     string            `json:"source,omitempty"`
	Event      string            `json:"event"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// NewEnvelope builds a fresh envelope for one log line.
func NewEnvelope(meta model.Metadata, line string) Envelope {
	return Envelope{
		Index:      meta.Index,
		Sourcetype: meta.Sourcetype,
		Source:     meta.Source,
		Event:      line,
	}
}

// marshal encodes env as a single JSON line without the trailing newline.
// HTML characters are left unescaped so log text reaches the collector verbatim.
func (env Envelope) marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("hec: encode envelope: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
