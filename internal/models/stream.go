package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/ollama/ollama/api"
)

// StreamFragment is one decoded record of the chat stream.
type StreamFragment struct {
	Model     string
	CreatedAt time.Time
	Role      string
	// Content is the incremental text carried by this record, never the cumulative one.
	Content string
	// Done is advisory. The end of the response body is what completes a reply.
	Done       bool
	DoneReason string
	// Err is filled when the server reports an error inside the stream.
	Err string
}

type streamRecord struct {
	api.ChatResponse
	Error string `json:"error,omitempty"`
}

// ParseLine decodes a single newline-delimited JSON record. Blank lines report ok as false and no error.
// A line that is not valid JSON returns a *ParseError; callers skip it and keep reading.
func ParseLine(raw []byte) (StreamFragment, bool, error) {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 {
		return StreamFragment{}, false, nil
	}

	var rec streamRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return StreamFragment{}, false, &ParseError{Line: line, Err: err}
	}

	return StreamFragment{
		Model:      rec.Model,
		CreatedAt:  rec.CreatedAt,
		Role:       rec.Message.Role,
		Content:    rec.Message.Content,
		Done:       rec.Done,
		DoneReason: rec.DoneReason,
		Err:        rec.Error,
	}, true, nil
}
