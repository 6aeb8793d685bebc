package names

import (
	"sort"
	"strings"
)

// Symbol tagging maps name tokens onto stable identifiers shared by known
// spelling variants. Two names that share a symbol are candidates for the
// same real-world entity even when their surface forms differ.

// TagPersonName returns the symbols recognized in a person name.
func TagPersonName(name string) []string {
	var out []string
	for _, token := range Parts(Latinize(name)) {
		if id, ok := givenNames[token]; ok {
			out = append(out, "NAME:"+id)
		}
	}
	return dedupeSorted(out)
}

// TagOrgName returns the symbols recognized in an organization name,
// chiefly legal-form markers.
func TagOrgName(name string) []string {
	var out []string
	for _, token := range Parts(Latinize(name)) {
		if id, ok := orgForms[token]; ok {
			out = append(out, "ORG:"+id)
		}
	}
	return dedupeSorted(out)
}

// TagName runs both taggers, for names whose bearer kind is unknown.
func TagName(name string) []string {
	out := append(TagPersonName(name), TagOrgName(name)...)
	return dedupeSorted(out)
}

func dedupeSorted(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	sort.Strings(symbols)
	out := symbols[:0]
	var last string
	for _, s := range symbols {
		if s == last {
			continue
		}
		out = append(out, s)
		last = s
	}
	return out
}

// givenNames maps latinized given-name variants onto a canonical id. The
// table covers the transliteration clusters that show up most in the
// datasets; unknown names simply yield no symbol.
var givenNames = buildVariants(map[string][]string{
	"vladimir":  {"vladimir", "wladimir", "volodymyr", "wolodymyr", "uladzimir"},
	"alexander": {"alexander", "aleksandr", "alexandr", "oleksandr", "aleksander", "alex"},
	"mikhail":   {"mikhail", "michael", "michail", "mykhailo", "mihail"},
	"sergei":    {"sergei", "sergey", "serhii", "serhiy", "serge"},
	"dmitri":    {"dmitri", "dmitry", "dmitrii", "dmytro"},
	"yevgeni":   {"yevgeni", "yevgeny", "evgeni", "evgeny", "eugene", "yevhen"},
	"nikolai":   {"nikolai", "nikolay", "nicholas", "mykola", "nicolas"},
	"pavel":     {"pavel", "paul", "pavlo", "pawel"},
	"pyotr":     {"pyotr", "petr", "peter", "petro", "piotr"},
	"ivan":      {"ivan", "iwan", "john", "johann"},
	"yuri":      {"yuri", "yury", "yurii", "iurii", "george", "georgi", "georgiy"},
	"andrei":    {"andrei", "andrey", "andrii", "andriy", "andrew", "andreas"},
	"anna":      {"anna", "ann", "hanna", "anne"},
	"yekaterina": {
		"yekaterina", "ekaterina", "kateryna", "katarina", "catherine", "katherine",
	},
	"maria":  {"maria", "mariya", "marie", "mary"},
	"olga":   {"olga", "olha", "volha"},
	"angela": {"angela", "angele"},
	"tatiana": {
		"tatiana", "tatyana", "tetiana", "tatjana",
	},
	"mohammed": {
		"mohammed", "mohamed", "muhammad", "muhammed", "mohammad", "mehmet",
	},
	"abdullah": {"abdullah", "abdulla", "abdallah"},
	"josef":    {"josef", "joseph", "iosif", "yusuf", "jose"},
	"william":  {"william", "wilhelm", "guillaume", "willem"},
	"charles":  {"charles", "carl", "karl", "carlos", "carlo"},
})

// orgForms maps latinized legal-form tokens onto a canonical class.
var orgForms = buildVariants(map[string][]string{
	"llc":     {"llc", "ooo", "оoo", "sarl", "sro"},
	"ltd":     {"ltd", "limited", "lda", "pty"},
	"inc":     {"inc", "incorporated"},
	"corp":    {"corp", "corporation"},
	"jsc":     {"jsc", "oao", "zao", "pao", "as", "ao"},
	"gmbh":    {"gmbh", "mbh"},
	"ag":      {"ag", "aktiengesellschaft"},
	"sa":      {"sa", "spa"},
	"plc":     {"plc"},
	"llp":     {"llp", "lp"},
	"bv":      {"bv", "nv"},
	"co":      {"co", "company", "cie"},
	"group":   {"group", "gruppe", "groupe", "grupo"},
	"holding": {"holding", "holdings"},
	"bank":    {"bank", "banque", "banco", "banca"},
	"fund":    {"fund", "foundation", "fond", "stichting"},
	"trust":   {"trust"},
	"se":      {"se"},
	"kg":      {"kg", "kgaa"},
	"oy":      {"oy", "oyj"},
	"ab":      {"ab", "aps"},
})

func buildVariants(classes map[string][]string) map[string]string {
	out := map[string]string{}
	for id, variants := range classes {
		for _, v := range variants {
			out[strings.ToLower(v)] = id
		}
	}
	return out
}
