package detectors

import "strings"

// Categories assigned to recognizer labels.
const (
	CategoryPersonName = "person-name"
	CategoryOther      = "other"
)

// personNameLabels lists recognizer labels (BIO prefix removed, upper case)
// that denote a person's name or part of one.
var personNameLabels = map[string]bool{
	"PERSON":     true,
	"PER":        true,
	"PERS":       true,
	"NAME":       true,
	"FULLNAME":   true,
	"FIRSTNAME":  true,
	"GIVENNAME":  true,
	"MIDDLENAME": true,
	"SURNAME":    true,
	"LASTNAME":   true,
}

// BaseLabel strips a BIO/BIOES tag prefix and upper-cases the label.
func BaseLabel(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	for _, prefix := range []string{"B-", "I-", "E-", "S-", "L-", "U-"} {
		if strings.HasPrefix(label, prefix) {
			return label[len(prefix):]
		}
	}
	return label
}

// CategoryForLabel maps a recognizer label to the category the anonymizer
// understands.
func CategoryForLabel(label string) string {
	if personNameLabels[BaseLabel(label)] {
		return CategoryPersonName
	}
	return CategoryOther
}

// IsPersonLabel reports whether label denotes a person name.
func IsPersonLabel(label string) bool {
	return CategoryForLabel(label) == CategoryPersonName
}
