package rules

// scan.go - Lexical helpers shared by the rewrite rules: function call range
// discovery, top-level argument splitting, and literal masking. All of them
// honor single-quoted literals with '' doubling so rewrites never touch
// string contents.

import "strings"

// funcRange locates one function invocation: name start, opening paren, and
// matching closing paren offsets.
type funcRange struct {
	nameStart int
	lparen    int
	rparen    int
}

// findFuncRanges finds every NAME( ... ) invocation of the given function,
// case-insensitively, with balanced parentheses. Invocations with an
// unterminated argument list are ignored.
func findFuncRanges(text, nameUpper string) []funcRange {
	upper := strings.ToUpper(text)
	var out []funcRange
	idx := 0
	for {
		n := strings.Index(upper[idx:], nameUpper+"(")
		if n < 0 {
			return out
		}
		n += idx
		// Require a non-identifier boundary before the name so SYSDATE does
		// not match inside MY_SYSDATE.
		if n > 0 && isIdentByte(text[n-1]) {
			idx = n + 1
			continue
		}
		lparen := n + len(nameUpper)
		rparen := matchParen(text, lparen)
		if rparen < 0 {
			return out
		}
		out = append(out, funcRange{nameStart: n, lparen: lparen, rparen: rparen})
		idx = rparen + 1
	}
}

// matchParen returns the offset of the ')' matching the '(' at lparen,
// skipping string literals, or -1 when unbalanced.
func matchParen(text string, lparen int) int {
	depth := 0
	inSingle := false
	for i := lparen; i < len(text); i++ {
		ch := text[i]
		if ch == '\'' {
			if inSingle && i+1 < len(text) && text[i+1] == '\'' {
				i++
				continue
			}
			inSingle = !inSingle
			continue
		}
		if inSingle {
			continue
		}
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitArgs splits a function argument list on top-level commas, trimming
// each argument. Commas inside nested parentheses or string literals do not
// split.
func splitArgs(argStr string) []string {
	var args []string
	var buf strings.Builder
	depth := 0
	inSingle := false
	for i := 0; i < len(argStr); i++ {
		ch := argStr[i]
		if ch == '\'' {
			if inSingle && i+1 < len(argStr) && argStr[i+1] == '\'' {
				buf.WriteString("''")
				i++
				continue
			}
			inSingle = !inSingle
			buf.WriteByte(ch)
			continue
		}
		if !inSingle {
			switch ch {
			case '(':
				depth++
			case ')':
				if depth > 0 {
					depth--
				}
			case ',':
				if depth == 0 {
					args = append(args, strings.TrimSpace(buf.String()))
					buf.Reset()
					continue
				}
			}
		}
		buf.WriteByte(ch)
	}
	if tail := strings.TrimSpace(buf.String()); tail != "" {
		args = append(args, tail)
	}
	return args
}

// replaceRanges substitutes each located invocation with its replacement
// text, keeping everything between ranges untouched. ranges must be in
// ascending, non-overlapping order as produced by findFuncRanges.
func replaceRanges(text string, ranges []funcRange, repls []string) string {
	var out strings.Builder
	last := 0
	for i, r := range ranges {
		out.WriteString(text[last:r.nameStart])
		out.WriteString(repls[i])
		last = r.rparen + 1
	}
	out.WriteString(text[last:])
	return out.String()
}

// maskLiterals returns a copy of text where the contents of single-quoted
// literals, line comments, and block comments are blanked with spaces.
// Pattern checks run against the mask so literal text never triggers a rule.
func maskLiterals(text string) string {
	mask := []byte(text)
	inSingle := false
	for i := 0; i < len(mask); i++ {
		ch := text[i]
		if inSingle {
			if ch == '\'' {
				if i+1 < len(text) && text[i+1] == '\'' {
					mask[i], mask[i+1] = ' ', ' '
					i++
					continue
				}
				inSingle = false
				continue
			}
			if ch != '\n' {
				mask[i] = ' '
			}
			continue
		}
		switch {
		case ch == '\'':
			inSingle = true
		case ch == '-' && i+1 < len(text) && text[i+1] == '-':
			for i < len(mask) && text[i] != '\n' {
				mask[i] = ' '
				i++
			}
		case ch == '/' && i+1 < len(text) && text[i+1] == '*' && (i+2 >= len(text) || text[i+2] != '+'):
			// plain block comment; hint comments /*+ ... */ are left for the
			// hint rule to see
			for i < len(mask) {
				if text[i] == '*' && i+1 < len(text) && text[i+1] == '/' {
					mask[i], mask[i+1] = ' ', ' '
					i++
					break
				}
				if text[i] != '\n' {
					mask[i] = ' '
				}
				i++
			}
		}
	}
	return string(mask)
}

func isIdentByte(ch byte) bool {
	return ch == '_' || ch == '$' || ch == '#' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
