package xref

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/ftm"
)

func testMatch() *Match {
	return &Match{
		Entity: &ftm.Entity{
			ID:     "e1",
			Schema: "Person",
			Properties: map[string][]string{
				"name":        {"Vladimir Putin"},
				"nationality": {"ru"},
			},
		},
		Match: &ftm.Entity{
			ID:     "m1",
			Schema: "Person",
			Properties: map[string][]string{
				"name":    {"Wladimir Putin"},
				"country": {"de"},
			},
		},
		MatchDataset: "panama",
		Score:        0.87,
		Doubt:        0.1,
		Method:       "name-qualified",
	}
}

func TestMatchIDStable(t *testing.T) {
	a := matchID("e1", "luanda", "m1")
	b := matchID("e1", "luanda", "m1")
	assert.Equal(t, a, b, "re-running a cross-reference must overwrite")
	assert.NotEqual(t, a, matchID("e1", "panama", "m1"))
	assert.NotEqual(t, a, matchID("e2", "luanda", "m1"))
}

func TestActionSource(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	a, err := action("luanda", testMatch(), "2026-08-25T00:00:00", ftm.Default())
	require.NoError(t, err)

	assert.Equal(t, "openaleph-xref-v1", a.Index)
	assert.Equal(t, matchID("e1", "luanda", "m1"), a.ID)

	source := a.Source
	assert.Equal(t, 0.87, source["score"])
	assert.Equal(t, 0.1, source["doubt"])
	assert.Equal(t, "name-qualified", source["method"])
	assert.Equal(t, "e1", source["entity_id"])
	assert.Equal(t, "m1", source["match_id"])
	assert.Equal(t, "luanda", source["dataset"])
	assert.Equal(t, "panama", source["match_dataset"])
	assert.Equal(t, "Person", source["schema"])
	assert.Equal(t, []string{"de", "ru"}, source["countries"])

	random, ok := source["random"].(int32)
	require.True(t, ok)
	assert.GreaterOrEqual(t, random, int32(1))

	text := source["text"].([]string)
	assert.Contains(t, text, "Vladimir Putin")
	assert.Contains(t, text, "Wladimir Putin")
}

func TestActionTextCapped(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	match := testMatch()
	var many []string
	for i := 0; i < MaxNames+20; i++ {
		many = append(many, fmt.Sprintf("Alias Number %d", i))
	}
	match.Entity.Properties["alias"] = many

	a, err := action("luanda", match, "2026-08-25T00:00:00", ftm.Default())
	require.NoError(t, err)
	text := a.Source["text"].([]string)
	// Caption + capped entity names + match names.
	assert.LessOrEqual(t, len(text), 2*MaxNames+2)
}

func TestActionIncompleteMatch(t *testing.T) {
	_, err := action("luanda", &Match{}, "2026-08-25T00:00:00", ftm.Default())
	assert.Error(t, err)

	_, err = action("luanda", &Match{
		Entity: &ftm.Entity{ID: "e1", Schema: "Nope"},
		Match:  &ftm.Entity{ID: "m1", Schema: "Person"},
	}, "2026-08-25T00:00:00", ftm.Default())
	assert.Error(t, err)
}
