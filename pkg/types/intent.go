package types

// Intent is the closed set of factual attributes a question can ask about.
type Intent int

// Intent values. IntentNone means the question has no symbolic intent and is
// answered from embeddings only.
const (
	IntentNone Intent = iota
	IntentDirector
	IntentScreenwriter
	IntentReleaseDate
)

// Intents lists the symbolic intents in classification priority order.
var Intents = []Intent{IntentDirector, IntentScreenwriter, IntentReleaseDate}

// String returns a stable identifier for logs and metrics labels.
func (i Intent) String() string {
	switch i {
	case IntentDirector:
		return "director"
	case IntentScreenwriter:
		return "screenwriter"
	case IntentReleaseDate:
		return "release_date"
	default:
		return "none"
	}
}

// Attribute returns the human readable attribute name used in answers.
func (i Intent) Attribute() string {
	switch i {
	case IntentDirector:
		return "director"
	case IntentScreenwriter:
		return "screenwriter"
	case IntentReleaseDate:
		return "release date"
	default:
		return ""
	}
}

// Symbolic reports whether the intent maps to a graph attribute edge.
func (i Intent) Symbolic() bool {
	return i != IntentNone
}

// ParseIntent converts a String() value back into an Intent.
// Unknown values map to IntentNone.
func ParseIntent(s string) Intent {
	for _, i := range Intents {
		if i.String() == s {
			return i
		}
	}
	return IntentNone
}
