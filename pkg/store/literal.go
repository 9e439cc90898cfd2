package store

import "strings"

// QuoteLiteral escapes backslashes and double quotes in s and wraps it in
// double quotes, for inlining string values into visualization queries.
func QuoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// QuoteList renders a list of string literals: ["a", "b"].
func QuoteList(xs []string) string {
	quoted := make([]string, len(xs))
	for i, x := range xs {
		quoted[i] = QuoteLiteral(x)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
