package protocol

import "strings"

// SanitizeFTS5Query rewrites a free-form query as a literal-token FTS5 match:
// each term is double-quoted so FTS5 operators ("and", "or", "not", NEAR,
// column filters) lose their special meaning, and terms are joined with OR
// for broader recall. FTS5 implicit AND requires every term to appear, which
// is too restrictive for conversational recall queries.
//
// The full-text index tries the raw query first and falls back to this form
// on a syntax error; keyword search must never be the reason a lookup fails.
func SanitizeFTS5Query(query string) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return query
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		// Embedded double quotes would terminate the quoted token early.
		clean := strings.Map(func(r rune) rune {
			if r == '"' {
				return -1
			}
			return r
		}, w)
		if clean != "" {
			quoted = append(quoted, `"`+clean+`"`)
		}
	}
	return strings.Join(quoted, " OR ")
}
