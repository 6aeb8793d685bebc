// Package names provides the name analysis used for indexing and matching:
// tokenization, latin transliteration, blocking keys, phonetic codes and
// symbol tagging.
package names

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MinPhoneticLength is the shortest phonetic code worth indexing. Shorter
// codes behave like stopwords and explode the candidate sets.
const MinPhoneticLength = 3

// Parts tokenizes a name: lowercase, punctuation replaced by spaces,
// whitespace squashed.
func Parts(name string) []string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// Key computes the blocking key of one name: transliterate to latin,
// tokenize, sort and concatenate. Returns "" when nothing remains.
func Key(name string) string {
	tokens := Parts(Latinize(name))
	if len(tokens) == 0 {
		return ""
	}
	sort.Strings(tokens)
	return strings.Join(tokens, "")
}

// Keys computes unique blocking keys over multiple names, preserving the
// first-seen order.
func Keys(names []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range names {
		key := Key(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

// Phonetics computes unique phonetic codes over the tokens of all names,
// keeping only codes of MinPhoneticLength or longer.
func Phonetics(names []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range names {
		for _, token := range Parts(Latinize(name)) {
			code := Metaphone(token)
			if len(code) < MinPhoneticLength || seen[code] {
				continue
			}
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

// Latinize folds a string to ASCII: combining marks are stripped and
// cyrillic letters transliterated. Unmapped non-ASCII runes are dropped.
func Latinize(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r < 128 {
			b.WriteRune(r)
			continue
		}
		if t, ok := cyrillic[unicode.ToLower(r)]; ok {
			b.WriteString(t)
			continue
		}
		// Unknown script: token boundary rather than silent deletion.
		b.WriteRune(' ')
	}
	return b.String()
}

// cyrillic maps lowercase cyrillic runes to latin transliterations.
var cyrillic = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d",
	'е': "e", 'ё': "e", 'ж': "zh", 'з': "z", 'и': "i",
	'й': "i", 'к': "k", 'л': "l", 'м': "m", 'н': "n",
	'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t",
	'у': "u", 'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch",
	'ш': "sh", 'щ': "shch", 'ъ': "", 'ы': "y", 'ь': "",
	'э': "e", 'ю': "yu", 'я': "ya",
	// Ukrainian and Belarusian additions.
	'і': "i", 'ї': "yi", 'є': "ye", 'ґ': "g", 'ў': "u",
}
