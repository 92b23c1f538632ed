package attr

import "strings"

// Understand parses a raw query into structured attributes, keywords, and
// context terms using deterministic dictionary matching, no learned model.
//
// No category is extracted: the embedding already captures what kind of thing
// the query is about, so category-like meaning is left to semantic similarity
// and only explicit attributes (color, pattern, brand) are pulled out.
func Understand(query string) QueryAttributes {
	query = strings.TrimSpace(query)
	if query == "" {
		return QueryAttributes{Attrs: Attributes{}}
	}
	return QueryAttributes{
		Attrs:    FromText(query),
		Keywords: extractKeywords(query),
		Context:  extractContext(query),
	}
}

// extractKeywords returns the whitespace tokens of query with stop-words
// removed. Tokens are kept verbatim; Korean text has no case to fold.
func extractKeywords(query string) []string {
	var keywords []string
	for _, word := range strings.Fields(query) {
		if _, stop := stopwords[word]; stop {
			continue
		}
		keywords = append(keywords, word)
	}
	return keywords
}

// extractContext returns the context terms present anywhere in the query.
func extractContext(query string) []string {
	lower := strings.ToLower(query)
	var found []string
	for _, term := range contextTerms {
		if strings.Contains(query, term) || strings.Contains(lower, strings.ToLower(term)) {
			found = append(found, term)
		}
	}
	return found
}
