package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParts(t *testing.T) {
	assert.Equal(t, []string{"vladimir", "putin"}, Parts("Vladimir Putin"))
	assert.Equal(t, []string{"o", "brien", "co"}, Parts("O'Brien & Co."))
	assert.Empty(t, Parts("..."))
}

func TestLatinize(t *testing.T) {
	assert.Equal(t, "vladimir putin", Latinize("владимир путин"))
	assert.Equal(t, "francois", Latinize("françois"))
	assert.Equal(t, "Muller", Latinize("Müller"))
}

func TestKeys(t *testing.T) {
	key := Key("Vladimir Putin")
	assert.Equal(t, "putinvladimir", key)
	// Token order and script do not matter.
	assert.Equal(t, key, Key("PUTIN, Vladimir"))
	assert.Equal(t, key, Key("Владимир Путин"))
	assert.NotEqual(t, key, Key("Wladimir Putin"))

	keys := Keys([]string{"Vladimir Putin", "Putin Vladimir", "Angela Merkel"})
	assert.Len(t, keys, 2)
	assert.Empty(t, Keys([]string{"", "..."}))
}

func TestPhonetics(t *testing.T) {
	codes := Phonetics([]string{"Vladimir Putin"})
	assert.Contains(t, codes, Metaphone("vladimir"))
	assert.Contains(t, codes, Metaphone("putin"))
	// Spelling variants collapse onto the same codes.
	assert.Equal(t, codes, Phonetics([]string{"Wladimir Putin"}))
	// Short codes are dropped like stopwords.
	assert.Empty(t, Phonetics([]string{"de la"}))
}

func TestMetaphone(t *testing.T) {
	assert.Equal(t, Metaphone("vladimir"), Metaphone("wladimir"))
	assert.NotEqual(t, Metaphone("putin"), Metaphone("merkel"))
	assert.Equal(t, "", Metaphone("123"))
}

func TestTagPersonName(t *testing.T) {
	symbols := TagPersonName("Vladimir Putin")
	assert.Equal(t, []string{"NAME:vladimir"}, symbols)
	// Cross-script and cross-spelling variants share the symbol.
	assert.Equal(t, symbols, TagPersonName("Владимир Путин"))
	assert.Equal(t, symbols, TagPersonName("Wolodymyr Putin"))
	assert.Empty(t, TagPersonName("Xyzzy Quux"))
}

func TestTagOrgName(t *testing.T) {
	assert.Equal(t, []string{"ORG:llc"}, TagOrgName("Siberia Trading LLC"))
	assert.Equal(t, []string{"ORG:llc"}, TagOrgName("OOO Sibirskaya Torgovlya"))
	assert.Equal(t, []string{"ORG:bank", "ORG:jsc"}, TagOrgName("JSC Alfa Bank"))
}

func TestTagName(t *testing.T) {
	symbols := TagName("Vladimir Putin Holdings Ltd")
	assert.Equal(t, []string{"NAME:vladimir", "ORG:holding", "ORG:ltd"}, symbols)
}
