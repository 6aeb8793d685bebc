package names

import "strings"

// Metaphone computes a simplified metaphone code for a latin token. The
// code collapses spelling variants ("Vladimir"/"Wladimir") onto the same
// key while keeping unrelated names apart. Input is expected to be
// lowercase ASCII, as produced by Latinize.
func Metaphone(token string) string {
	token = strings.ToLower(token)
	runes := make([]rune, 0, len(token))
	for _, r := range token {
		if r >= 'a' && r <= 'z' {
			runes = append(runes, r)
		}
	}
	if len(runes) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(len(runes))
	prev := rune(0)
	for i, r := range runes {
		// Collapse doubled letters.
		if r == prev {
			continue
		}
		prev = r
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		switch r {
		case 'a', 'e', 'i', 'o', 'u', 'y':
			// Vowels only survive in leading position.
			if i == 0 {
				b.WriteRune('A')
			}
		case 'b', 'p':
			b.WriteRune('P')
		case 'c', 'k', 'q':
			if r == 'c' && (next == 'h' || next == 'z') {
				b.WriteRune('X')
			} else {
				b.WriteRune('K')
			}
		case 'd', 't':
			if r == 't' && next == 'h' {
				b.WriteRune('0')
			} else {
				b.WriteRune('T')
			}
		case 'f', 'v', 'w':
			b.WriteRune('F')
		case 'g', 'j':
			b.WriteRune('K')
		case 'h':
			// Silent after consonant digraph starters.
			switch prevCode(runes, i) {
			case 'c', 's', 't', 'p', 'z':
			default:
				b.WriteRune('H')
			}
		case 'l':
			b.WriteRune('L')
		case 'm', 'n':
			b.WriteRune('N')
		case 'r':
			b.WriteRune('R')
		case 's', 'z':
			if next == 'h' {
				b.WriteRune('X')
			} else {
				b.WriteRune('S')
			}
		case 'x':
			b.WriteString("KS")
		}
	}
	return b.String()
}

func prevCode(runes []rune, i int) rune {
	if i == 0 {
		return 0
	}
	return runes[i-1]
}
