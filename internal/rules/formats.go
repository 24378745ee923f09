// Package rules implements declarative form validation: named value formats,
// per-field rules from the screen definition, cross-field comparisons, and
// row-section checks. Validation is pure and reads only the state it is
// given.
package rules

import "regexp"

// Named formats referenced by field definitions. Messages are the defaults
// used when the definition carries none.
var formats = map[string]struct {
	re      *regexp.Regexp
	message string
}{
	"phone": {
		re:      regexp.MustCompile(`^[0-9]{10}$`),
		message: "Phone number must be exactly 10 digits",
	},
	"postcode": {
		re:      regexp.MustCompile(`^[0-9]{5}$`),
		message: "Postcode must be exactly 5 digits",
	},
	"tin": {
		re:      regexp.MustCompile(`^IG[0-9]{5,6}$`),
		message: "TIN must start with IG followed by 5 or 6 digits",
	},
	"mykad": {
		re:      regexp.MustCompile(`^[0-9]{9,12}$`),
		message: "MyKad number must be 9 to 12 digits",
	},
	"passport": {
		re:      regexp.MustCompile(`^[A-Z0-9]{6,9}$`),
		message: "Passport number must be 6 to 9 uppercase letters or digits",
	},
	"name": {
		re:      regexp.MustCompile(`^[A-Za-z\s\-']{1,100}$`),
		message: "Name may contain only letters, spaces, hyphens and apostrophes",
	},
	"address": {
		re:      regexp.MustCompile(`^[A-Za-z0-9\s,./#'’()-]{10,200}$`),
		message: "Address must be 10 to 200 characters",
	},
}

// MatchesFormat reports whether value matches the named format. Unknown
// format names match nothing.
func MatchesFormat(name, value string) bool {
	f, ok := formats[name]
	return ok && f.re.MatchString(value)
}

// KnownFormats lists the format names accepted in definitions.
func KnownFormats() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	return names
}
