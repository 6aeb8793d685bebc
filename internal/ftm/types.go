package ftm

// PropertyType is one of the closed set of property value types.
type PropertyType string

const (
	TypeString     PropertyType = "string"
	TypeText       PropertyType = "text"
	TypeHTML       PropertyType = "html"
	TypeJSON       PropertyType = "json"
	TypeDate       PropertyType = "date"
	TypeNumber     PropertyType = "number"
	TypeName       PropertyType = "name"
	TypeCountry    PropertyType = "country"
	TypeLanguage   PropertyType = "language"
	TypeEmail      PropertyType = "email"
	TypePhone      PropertyType = "phone"
	TypeURL        PropertyType = "url"
	TypeIP         PropertyType = "ip"
	TypeIBAN       PropertyType = "iban"
	TypeIdentifier PropertyType = "identifier"
	TypeChecksum   PropertyType = "checksum"
	TypeAddress    PropertyType = "address"
	TypeMimetype   PropertyType = "mimetype"
	TypeGender     PropertyType = "gender"
	TypeTopic      PropertyType = "topic"
	TypeEntity     PropertyType = "entity"
)

// Groups maps group-typed property types to the shared field that collects
// their values across all properties of that type.
var Groups = map[PropertyType]string{
	TypeName:       "names",
	TypeCountry:    "countries",
	TypeLanguage:   "languages",
	TypeEmail:      "emails",
	TypePhone:      "phones",
	TypeURL:        "urls",
	TypeIP:         "ips",
	TypeIBAN:       "ibans",
	TypeIdentifier: "identifiers",
	TypeChecksum:   "checksums",
	TypeAddress:    "addresses",
	TypeMimetype:   "mimetypes",
	TypeGender:     "genders",
	TypeTopic:      "topics",
	TypeDate:       "dates",
	TypeEntity:     "entities",
}

var groupFieldsSorted = []string{
	"addresses", "checksums", "countries", "dates", "emails", "entities",
	"genders", "ibans", "identifiers", "ips", "languages", "mimetypes",
	"names", "phones", "topics", "urls",
}

// GroupFields returns every group field name, sorted.
func GroupFields() []string {
	out := make([]string, len(groupFieldsSorted))
	copy(out, groupFieldsSorted)
	return out
}

// Group returns the group field for a type, or "" when the type has none.
func (t PropertyType) Group() string {
	return Groups[t]
}

// IsNumeric reports whether values of this type receive a numeric cast.
// Dates cast to epoch seconds.
func (t PropertyType) IsNumeric() bool {
	return t == TypeNumber || t == TypeDate
}
