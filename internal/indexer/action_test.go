package indexer

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteNDJSONIndex(t *testing.T) {
	action := &Action{
		ID:      "e1",
		Index:   "openaleph-entity-things-v1",
		Routing: "luanda",
		Source:  map[string]interface{}{"schema": "Person"},
	}
	var buf bytes.Buffer
	require.NoError(t, action.WriteNDJSON(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	meta := map[string]map[string]string{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &meta))
	assert.Equal(t, "e1", meta["index"]["_id"])
	assert.Equal(t, "openaleph-entity-things-v1", meta["index"]["_index"])
	assert.Equal(t, "luanda", meta["index"]["routing"])

	source := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &source))
	assert.Equal(t, "Person", source["schema"])
}

func TestWriteNDJSONDelete(t *testing.T) {
	action := &Action{ID: "e1", Index: "openaleph-entity-things-v1", Op: OpDelete}
	var buf bytes.Buffer
	require.NoError(t, action.WriteNDJSON(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 1, "delete actions carry no source line")

	meta := map[string]map[string]string{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &meta))
	assert.Contains(t, meta, "delete")
	assert.NotContains(t, meta["delete"], "routing")
}

func TestChunkLimits(t *testing.T) {
	c := newChunk()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.add(&Action{
			ID:     "e1",
			Index:  "idx",
			Source: map[string]interface{}{"n": i},
		}))
	}
	assert.Equal(t, 3, c.count)
	assert.Greater(t, c.buf.Len(), 0)
}

func TestScrollDuration(t *testing.T) {
	assert.Equal(t, float64(300), scrollDuration("5m").Seconds())
	assert.Equal(t, float64(30), scrollDuration("30s").Seconds())
	assert.Equal(t, float64(300), scrollDuration("junk").Seconds())
}
