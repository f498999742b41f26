// Package extract scans raw source files and produces typed spans of text.
// It is a tolerant scanner, not a grammar parser: syntax it cannot interpret
// becomes an UNSUPPORTED_MACRO or UNKNOWN_DELIMITER block instead of an
// error, and macros are never expanded. The produced blocks cover every byte
// of the input with no gaps or overlaps, in source order.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/helios-labs/helios/internal/core"
)

// hereDocOpen marks the start of a shell here-doc that wraps SQL content.
// The block ends at a line containing exactly "!".
const hereDocOpen = "<<!"

// Line patterns that cannot be resolved to literal SQL.
var (
	// DEFINE var = value / UNDEFINE var (SQL*Plus substitution machinery)
	definePattern = regexp.MustCompile(`(?i)^\s*(DEFINE|UNDEFINE)\b`)
	// &var or &&var substitution references
	substPattern = regexp.MustCompile(`&&?[A-Za-z_][A-Za-z0-9_]*`)
)

// Extract splits file content into an ordered sequence of blocks.
// The only file-level error is malformed encoding; all content-level
// ambiguity is reported through block kinds, never as an error.
func Extract(file string, content []byte) ([]core.Block, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("failed to extract %s: content is not valid UTF-8", file)
	}
	text := string(content)
	if text == "" {
		return nil, nil
	}

	s := &scanner{text: text}

	open := findHereDocOpen(text)
	if open < 0 {
		s.scanSQLRegion(len(text))
		return s.blocks, nil
	}

	// Shell wrapper: preamble through the opening marker line is not SQL.
	bodyStart := lineEnd(text, open)
	s.emitTo(bodyStart, core.BlockUnknownDelimiter)

	// Here-doc body runs until a line that is exactly "!".
	bodyEnd := findHereDocClose(text, bodyStart)
	s.scanSQLRegion(bodyEnd)

	// Terminator line and anything after it is wrapper again.
	s.emitTo(len(text), core.BlockUnknownDelimiter)
	return s.blocks, nil
}

// scanner walks the text emitting blocks. It tracks the current byte offset,
// line number, and single-quote state so substitution markers inside string
// literals are not misclassified.
type scanner struct {
	text    string
	pos     int
	line    int // 0-based count of newlines before pos
	blocks  []core.Block
	inQuote bool
}

// scanSQLRegion classifies the region [s.pos, end) line by line, coalescing
// adjacent lines of the same kind into one block.
func (s *scanner) scanSQLRegion(end int) {
	runStart := s.pos
	runLine := s.line
	runKind := core.BlockKind("")

	flush := func(upto int) {
		if upto > runStart {
			s.append(runStart, upto, runLine, runKind)
		}
	}

	for s.pos < end {
		le := lineEnd(s.text, s.pos)
		if le > end {
			le = end
		}
		lineText := s.text[s.pos:le]

		kind := core.BlockSQL
		if !s.inQuote && definePattern.MatchString(lineText) {
			kind = core.BlockUnsupportedMacro
		} else if s.hasBareSubstitution(lineText) {
			kind = core.BlockUnsupportedMacro
		}

		if kind != runKind {
			flush(s.pos)
			runStart = s.pos
			runLine = s.line
			runKind = kind
		}

		// Quote state carries across lines only for SQL content; a macro
		// line is opaque and resets nothing.
		if kind == core.BlockSQL {
			s.advanceQuoteState(lineText)
		}

		s.pos = le
		s.line += strings.Count(lineText, "\n")
	}
	flush(end)
}

// emitTo closes out the region [s.pos, end) as a single block of the given
// kind, if non-empty.
func (s *scanner) emitTo(end int, kind core.BlockKind) {
	if end <= s.pos {
		return
	}
	start, startLine := s.pos, s.line
	s.line += strings.Count(s.text[start:end], "\n")
	s.pos = end
	s.append(start, end, startLine, kind)
}

func (s *scanner) append(start, end, startLine int, kind core.BlockKind) {
	s.blocks = append(s.blocks, core.Block{
		StartOffset: start,
		EndOffset:   end,
		StartLine:   startLine + 1,
		RawText:     s.text[start:end],
		Kind:        kind,
	})
}

// hasBareSubstitution reports whether the line contains an &var or &&var
// reference outside single-quoted literals, given the scanner's current
// quote state.
func (s *scanner) hasBareSubstitution(line string) bool {
	inQuote := s.inQuote
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\'':
			inQuote = !inQuote
		case '&':
			if inQuote {
				continue
			}
			if loc := substPattern.FindStringIndex(line[i:]); loc != nil && loc[0] == 0 {
				return true
			}
		}
	}
	return false
}

// advanceQuoteState updates the cross-line single-quote state for a SQL line.
// Doubled quotes ('') toggle twice and cancel out, which is the correct
// treatment for Oracle's escaped-quote form.
func (s *scanner) advanceQuoteState(line string) {
	for i := 0; i < len(line); i++ {
		if line[i] == '\'' {
			s.inQuote = !s.inQuote
		}
	}
}

// findHereDocOpen returns the byte offset of the first line containing the
// here-doc opener, or -1 when the file is not shell-wrapped.
func findHereDocOpen(text string) int {
	idx := strings.Index(text, hereDocOpen)
	if idx < 0 {
		return -1
	}
	return idx
}

// findHereDocClose returns the offset of the start of the line that closes
// the here-doc ("!" alone), or len(text) when unterminated.
func findHereDocClose(text string, from int) int {
	pos := from
	for pos < len(text) {
		le := lineEnd(text, pos)
		if strings.TrimSpace(trimNewline(text[pos:le])) == "!" {
			return pos
		}
		pos = le
	}
	return len(text)
}

// lineEnd returns the offset one past the newline terminating the line that
// contains pos, or len(text) for the final unterminated line.
func lineEnd(text string, pos int) int {
	if nl := strings.IndexByte(text[pos:], '\n'); nl >= 0 {
		return pos + nl + 1
	}
	return len(text)
}

func trimNewline(s string) string {
	return strings.TrimRight(s, "\r\n")
}
