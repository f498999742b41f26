package rules

// datefmt.go - Oracle to Spark date format string mapping. Only formats
// built entirely from allow-listed tokens are mapped; anything else is an
// ambiguous format and fails the statement rather than being guessed.

import "strings"

// formatToken maps one Oracle format token to its Spark equivalent.
// Order matters: longer tokens are replaced first so HH24 is not eaten by a
// bare HH replacement.
type formatToken struct {
	Oracle string
	Spark  string
}

// defaultFormatTokens is the built-in supported mapping table.
var defaultFormatTokens = []formatToken{
	{"YYYY", "yyyy"},
	{"YY", "yy"},
	{"HH24", "HH"},
	{"HH12", "hh"},
	{"MI", "mm"},
	{"SS", "ss"},
	{"MM", "MM"},
	{"DD", "dd"},
}

// FormatMapper translates Oracle date format strings to Spark format
// strings, restricted to an allow-list of tokens.
type FormatMapper struct {
	tokens []formatToken
}

// NewFormatMapper builds a mapper for the given allow-list of Oracle tokens
// (case-insensitive). Tokens outside the built-in mapping table are ignored.
// A nil or empty allow-list enables the full built-in table.
func NewFormatMapper(allowed []string) *FormatMapper {
	if len(allowed) == 0 {
		return &FormatMapper{tokens: defaultFormatTokens}
	}
	set := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		set[strings.ToUpper(t)] = true
	}
	var tokens []formatToken
	for _, t := range defaultFormatTokens {
		if set[t.Oracle] {
			tokens = append(tokens, t)
		}
	}
	return &FormatMapper{tokens: tokens}
}

// Map translates an Oracle format string in a single left-to-right pass.
// Alphabetic runs must tile exactly into allowed tokens (YYYYMMDD is fine);
// ok is false when any alphabetic content falls outside the allow-list, in
// which case the format must not be rewritten.
func (m *FormatMapper) Map(format string) (mapped string, ok bool) {
	var out strings.Builder
	upper := strings.ToUpper(format)
	i := 0
	for i < len(format) {
		ch := upper[i]
		if ch < 'A' || ch > 'Z' {
			out.WriteByte(format[i])
			i++
			continue
		}
		matched := false
		for _, t := range m.tokens {
			if strings.HasPrefix(upper[i:], t.Oracle) {
				out.WriteString(t.Spark)
				i += len(t.Oracle)
				matched = true
				break
			}
		}
		if !matched {
			return "", false
		}
	}
	return out.String(), true
}
