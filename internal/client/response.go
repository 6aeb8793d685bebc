package client

import (
	"encoding/json"
	"fmt"
)

// SearchResponse is the decoded shape of a search or scroll reply.
type SearchResponse struct {
	ScrollID     string                     `json:"_scroll_id,omitempty"`
	Took         int                        `json:"took"`
	Hits         HitsEnvelope               `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations,omitempty"`
}

// MultiSearchResponse is the decoded shape of an msearch reply.
type MultiSearchResponse struct {
	Responses []SearchResponse `json:"responses"`
}

// HitsEnvelope carries the result list and total.
type HitsEnvelope struct {
	Total TotalHits `json:"total"`
	Hits  []Hit     `json:"hits"`
}

// TotalHits is the (possibly lower-bounded) result count.
type TotalHits struct {
	Value    int    `json:"value"`
	Relation string `json:"relation"`
}

// Hit is one raw backend document hit.
type Hit struct {
	ID        string                   `json:"_id"`
	Index     string                   `json:"_index"`
	Score     *float64                 `json:"_score"`
	Source    json.RawMessage          `json:"_source"`
	Highlight map[string][]string      `json:"highlight,omitempty"`
	Fields    map[string][]interface{} `json:"fields,omitempty"`
	Sort      []interface{}            `json:"sort,omitempty"`
	Found     *bool                    `json:"found,omitempty"`
	Error     json.RawMessage          `json:"error,omitempty"`
}

// Result is a hit unpacked into a flat JSON object: the source document
// with id, index, score, highlight fragments and sort keys folded in.
type Result map[string]interface{}

// Unpack turns a document hit into a Result. It returns nil for documents
// reported as not found, and an error when the backend embedded one.
func (h *Hit) Unpack() (Result, error) {
	if len(h.Error) > 0 {
		return nil, fmt.Errorf("query error: %s", string(h.Error))
	}
	if h.Found != nil && !*h.Found {
		return nil, nil
	}
	data := Result{}
	if len(h.Source) > 0 {
		if err := json.Unmarshal(h.Source, &data); err != nil {
			return nil, fmt.Errorf("failed to decode document source: %w", err)
		}
	}
	data["id"] = h.ID
	data["_index"] = h.Index
	if h.Score != nil && *h.Score != 0 {
		if _, ok := data["score"]; !ok {
			data["score"] = *h.Score
		}
	}
	if len(h.Highlight) > 0 {
		var fragments []string
		for field, values := range h.Highlight {
			if field == "translation" {
				continue
			}
			fragments = append(fragments, values...)
		}
		data["highlight"] = fragments
		if translated, ok := h.Highlight["translation"]; ok {
			data["highlight_translation"] = translated
		}
	}
	if h.Sort != nil {
		data["_sort"] = h.Sort
	}
	return data, nil
}

// ID returns the document id of an unpacked result.
func (r Result) ID() string {
	id, _ := r["id"].(string)
	return id
}

// IndexName returns the index the result was read from.
func (r Result) IndexName() string {
	index, _ := r["_index"].(string)
	return index
}

// Str returns a string field of the result, or "".
func (r Result) Str(key string) string {
	value, _ := r[key].(string)
	return value
}
