package mapping

// AnalysisSettings defines the shared analyzers, normalizers and the weak
// length normalization similarity used by name fields. Applied identically
// to every entity index.
func AnalysisSettings() Map {
	return Map{
		"char_filter": Map{
			"remove_punctuation": Map{
				"type":        "pattern_replace",
				"pattern":     `[\p{Punct}]`,
				"replacement": "",
			},
			"squash_spaces": Map{
				"type":        "pattern_replace",
				"pattern":     `\s{2,}`,
				"replacement": " ",
			},
		},
		"normalizer": Map{
			"kw-normalizer": Map{
				"type":        "custom",
				"char_filter": []string{"squash_spaces"},
				"filter":      []string{"lowercase", "trim"},
			},
			"name-kw-normalizer": Map{
				"type":        "custom",
				"char_filter": []string{"remove_punctuation", "squash_spaces"},
				"filter":      []string{"lowercase", "trim"},
			},
		},
		"analyzer": Map{
			// The default analyzer handles mixed-script text via ICU.
			DefaultAnalyzer: Map{
				"type":        "custom",
				"char_filter": []string{"squash_spaces"},
				"tokenizer":   "icu_tokenizer",
				"filter":      []string{"icu_folding", "lowercase"},
			},
			"icu-default": Map{
				"type":      "custom",
				"tokenizer": "icu_tokenizer",
				"filter":    []string{"icu_folding", "lowercase"},
			},
			// Page content arrives as extracted HTML fragments.
			"strip-html": Map{
				"type":        "custom",
				"char_filter": []string{"html_strip", "squash_spaces"},
				"tokenizer":   "icu_tokenizer",
				"filter":      []string{"icu_folding", "lowercase"},
			},
		},
	}
}

// SimilaritySettings defines weak_length_norm: names lists grow very long
// on well-described entities and must not be penalized for it.
func SimilaritySettings() Map {
	return Map{
		"weak_length_norm": Map{
			"type": "BM25",
			"b":    0.1,
		},
	}
}
