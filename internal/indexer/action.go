// Package indexer drives bulk writes: chunked bounded-concurrency ingest,
// scroll scans, targeted deletes and cross-bucket duplicate cleanup.
package indexer

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Op is a bulk operation kind.
type Op string

const (
	OpIndex  Op = "index"
	OpDelete Op = "delete"
)

// Action is one bulk operation: a document targeted at an index, routed by
// dataset.
type Action struct {
	ID      string
	Index   string
	Routing string
	Op      Op
	Source  map[string]interface{}
}

// actionMeta is the NDJSON action line.
type actionMeta struct {
	ID      string `json:"_id"`
	Index   string `json:"_index"`
	Routing string `json:"routing,omitempty"`
}

// WriteNDJSON appends the action and source lines to a bulk buffer.
func (a *Action) WriteNDJSON(buf *bytes.Buffer) error {
	op := a.Op
	if op == "" {
		op = OpIndex
	}
	meta := map[string]actionMeta{
		string(op): {ID: a.ID, Index: a.Index, Routing: a.Routing},
	}
	line, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode bulk action: %w", err)
	}
	buf.Write(line)
	buf.WriteByte('\n')
	if op == OpDelete {
		return nil
	}
	source, err := json.Marshal(a.Source)
	if err != nil {
		return fmt.Errorf("failed to encode bulk source: %w", err)
	}
	buf.Write(source)
	buf.WriteByte('\n')
	return nil
}

// bulkResponse is the decoded shape of a bulk reply. Each item is keyed by
// its operation kind.
type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

type bulkItem struct {
	ID     string          `json:"_id"`
	Index  string          `json:"_index"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}
