// Package split partitions SQL blocks into individual statements.
// Splitting happens on statement terminators only when they are outside
// string literals, comments, and balanced parentheses; a naive split on
// every semicolon is incorrect for real Oracle scripts. The splitter also
// records which common table expression names each statement binds and
// which names it consumes from earlier statements in the same block.
package split

import (
	"strings"

	"github.com/helios-labs/helios/internal/core"
)

// Split partitions one SQL block into statements. Statement order is
// preserved exactly; statements are never merged across block boundaries.
// CTE visibility is block-local: names bound by a statement are visible to
// later statements of the same block only.
func Split(file string, b core.Block) []core.Statement {
	raw := splitStatements(b.RawText)

	var stmts []core.Statement
	bound := map[string]bool{} // names bound by earlier statements, lowercase
	for _, r := range raw {
		text := strings.TrimSpace(r.text)
		if text == "" {
			continue
		}
		line := b.StartLine + r.lineOffset
		st := core.Statement{
			Text: text,
			Location: core.Location{
				File:    file,
				Line:    line,
				EndLine: line + strings.Count(text, "\n"),
			},
			Type:       classify(text),
			Diagnostic: isDiagnostic(text),
		}
		st.CTENames = parseWithNames(text)

		own := map[string]bool{}
		for _, n := range st.CTENames {
			own[strings.ToLower(n)] = true
		}
		for _, id := range identifiers(text) {
			key := strings.ToLower(id)
			if bound[key] && !own[key] && !containsFold(st.CTERefs, id) {
				st.CTERefs = append(st.CTERefs, id)
			}
		}

		for _, n := range st.CTENames {
			bound[strings.ToLower(n)] = true
		}
		stmts = append(stmts, st)
	}
	return stmts
}

// rawStatement is a pre-trim statement span with its line offset inside the
// block.
type rawStatement struct {
	text       string
	lineOffset int
}

// splitStatements performs the guarded lexical scan. Tracked state: single
// and double quoted strings (with '' doubling), -- line comments, /* */
// block comments, and parenthesis depth. A semicolon terminates a statement
// only when none of those are open.
func splitStatements(text string) []rawStatement {
	var (
		out       []rawStatement
		start     = 0
		startLine = 0
		line      = 0
		inSingle  bool
		inDouble  bool
		inLine    bool
		inBlock   bool
		depth     int
	)

	emit := func(end int) {
		out = append(out, rawStatement{text: text[start:end], lineOffset: leadingLines(text[start:end], startLine)})
		start = end + 1
		startLine = line
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]
		var next byte
		if i+1 < len(text) {
			next = text[i+1]
		}

		if ch == '\n' {
			line++
			inLine = false
			continue
		}

		switch {
		case inLine:
			// consumed until newline above
		case inBlock:
			if ch == '*' && next == '/' {
				inBlock = false
				i++
			}
		case inSingle:
			if ch == '\'' {
				inSingle = false // '' re-opens on the next quote
			}
		case inDouble:
			if ch == '"' {
				inDouble = false
			}
		default:
			switch ch {
			case '-':
				if next == '-' {
					inLine = true
					i++
				}
			case '/':
				if next == '*' {
					inBlock = true
					i++
				}
			case '\'':
				inSingle = true
			case '"':
				inDouble = true
			case '(':
				depth++
			case ')':
				if depth > 0 {
					depth--
				}
			case ';':
				if depth == 0 {
					emit(i)
				}
			}
		}
	}
	if start < len(text) {
		out = append(out, rawStatement{text: text[start:], lineOffset: leadingLines(text[start:], startLine)})
	}
	return out
}

// leadingLines adjusts a span's first-content line: the span may begin with
// newlines left over from the previous terminator.
func leadingLines(span string, base int) int {
	for _, r := range span {
		switch r {
		case '\n':
			base++
		case ' ', '\t', '\r':
		default:
			return base
		}
	}
	return base
}

// classify determines the statement type from its leading keyword.
func classify(text string) core.StatementType {
	switch firstWord(text) {
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "COMMENT", "GRANT", "REVOKE":
		return core.StatementDDL
	case "INSERT", "UPDATE", "DELETE", "MERGE":
		return core.StatementDML
	default:
		return core.StatementQuery
	}
}

// isDiagnostic reports whether the statement is a control or diagnostic
// statement that has no place in converted output: COMMIT, EXIT, or a
// progress SELECT against DUAL.
func isDiagnostic(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	if upper == "COMMIT" || upper == "EXIT" {
		return true
	}
	return strings.HasPrefix(upper, "SELECT '") && strings.Contains(upper, "FROM DUAL")
}

func firstWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// parseWithNames extracts the identifiers bound by a statement's WITH
// header: WITH name AS (...) [, name AS (...)]*. Returns nil when the
// statement has no WITH clause or the header does not parse cleanly.
func parseWithNames(text string) []string {
	toks := tokenize(text)
	if len(toks) == 0 || !strings.EqualFold(toks[0].val, "WITH") {
		return nil
	}
	i := 1
	if i < len(toks) && strings.EqualFold(toks[i].val, "RECURSIVE") {
		i++
	}

	var names []string
	for {
		if i >= len(toks) || toks[i].kind != tokIdent {
			return names
		}
		name := toks[i].val
		i++
		// optional column list
		if i < len(toks) && toks[i].val == "(" {
			i = skipParens(toks, i)
		}
		if i >= len(toks) || !strings.EqualFold(toks[i].val, "AS") {
			return names
		}
		i++
		if i >= len(toks) || toks[i].val != "(" {
			return names
		}
		i = skipParens(toks, i)
		names = append(names, name)
		if i < len(toks) && toks[i].val == "," {
			i++
			continue
		}
		return names
	}
}

// identifiers yields every bare identifier token in the statement, outside
// strings and comments.
func identifiers(text string) []string {
	var out []string
	for _, t := range tokenize(text) {
		if t.kind == tokIdent {
			out = append(out, t.val)
		}
	}
	return out
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokPunct
)

type token struct {
	kind tokKind
	val  string
}

// tokenize produces identifier and punctuation tokens, skipping string
// literals, comments, and numbers. It is deliberately coarse: the pipeline
// never needs a full grammar, only name visibility.
func tokenize(text string) []token {
	var toks []token
	i := 0
	for i < len(text) {
		ch := text[i]
		switch {
		case ch == '\'':
			i = skipSingleQuoted(text, i)
		case ch == '"':
			// quoted identifier: keep the inner text as one identifier
			j := i + 1
			for j < len(text) && text[j] != '"' {
				j++
			}
			toks = append(toks, token{kind: tokIdent, val: text[i+1 : min(j, len(text))]})
			i = j + 1
		case ch == '-' && i+1 < len(text) && text[i+1] == '-':
			nl := strings.IndexByte(text[i:], '\n')
			if nl < 0 {
				return toks
			}
			i += nl + 1
		case ch == '/' && i+1 < len(text) && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				return toks
			}
			i += end + 4
		case isIdentStart(ch):
			j := i + 1
			for j < len(text) && isIdentPart(text[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, val: text[i:j]})
			i = j
		case ch == '(' || ch == ')' || ch == ',':
			toks = append(toks, token{kind: tokPunct, val: string(ch)})
			i++
		default:
			i++
		}
	}
	return toks
}

// skipParens advances past a balanced parenthesised token group; toks[i]
// must be "(". Returns the index after the matching ")".
func skipParens(toks []token, i int) int {
	depth := 0
	for ; i < len(toks); i++ {
		switch toks[i].val {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}

// skipSingleQuoted advances past a single-quoted literal starting at i,
// honoring '' doubling.
func skipSingleQuoted(text string, i int) int {
	i++ // opening quote
	for i < len(text) {
		if text[i] == '\'' {
			if i+1 < len(text) && text[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9') || ch == '$' || ch == '#'
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
