package sqlvalidator

import "strings"

// maskQuotedLiterals replaces the contents of single-quoted string literals
// with 'x' repeated to the same length, preserving the statement's overall
// shape (and therefore its length and quote/semicolon positions) while
// keeping literal text — which legitimately may contain words like "select"
// or "drop" — out of the keyword and injection scans. A lexer-style single
// pass over the bytes, tracking quote state, is preferred here over a
// blanket regex substitution because it correctly handles the SQL ''
// escaped-quote convention.
func maskQuotedLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inQuote := false
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' && !inQuote:
			inQuote = true
			b.WriteRune(r)
		case r == '\'' && inQuote:
			// "''" inside a quoted literal is an escaped single quote, not
			// the end of the literal.
			if i+1 < len(runes) && runes[i+1] == '\'' {
				b.WriteRune('x')
				b.WriteRune('x')
				i++
				continue
			}
			inQuote = false
			b.WriteRune(r)
		case inQuote:
			b.WriteRune('x')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenize splits a SQL statement on whitespace into words, used by the
// whole-word keyword scan. Punctuation attached to a word (commas,
// parentheses) is trimmed so "select(1)" still tokenizes as "select".
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '(', ')', ',', ';':
			return true
		}
		return false
	})
	return fields
}
