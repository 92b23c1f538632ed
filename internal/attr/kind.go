// Package attr provides dictionary-based attribute extraction shared by
// query understanding and item-side extraction, so both sides produce
// directly comparable structured attributes.
package attr

// Kind is an enumerated attribute kind. Gating and reranking rules switch on
// it, so adding a kind surfaces every place that must handle it.
type Kind int

const (
	Color Kind = iota
	Pattern
	Brand
)

// Kinds lists all attribute kinds in evaluation order.
var Kinds = []Kind{Color, Pattern, Brand}

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case Color:
		return "color"
	case Pattern:
		return "pattern"
	case Brand:
		return "brand"
	default:
		return "unknown"
	}
}

// Attributes maps an attribute kind to its normalized canonical values.
// A missing kind means the text states nothing about it.
type Attributes map[Kind][]string

// Has reports whether any value of kind was extracted.
func (a Attributes) Has(k Kind) bool {
	return len(a[k]) > 0
}

// add appends value to kind, skipping duplicates.
func (a Attributes) add(k Kind, value string) {
	for _, v := range a[k] {
		if v == value {
			return
		}
	}
	a[k] = append(a[k], value)
}

// QueryAttributes is the structured form of a search query. Category is
// intentionally always absent: embedding similarity already captures what the
// item is, so only explicit, user-stated attributes are extracted.
type QueryAttributes struct {
	Attrs Attributes
	// Keywords are the query tokens with particles and generic verbs removed.
	Keywords []string
	// Context holds location/situational terms (station names, "카페", ...).
	Context []string
}
