// Package core holds the shared data model for the Helios conversion
// pipeline: blocks, statements, chunks, rewrite results, and failure markers.
// Everything here is created once per run and immutable afterwards.
package core

import "fmt"

// BlockKind classifies an extracted span of source text.
type BlockKind string

const (
	// BlockSQL is a span of recognized SQL text.
	BlockSQL BlockKind = "SQL"
	// BlockUnsupportedMacro is a macro or substitution variable span that
	// cannot be resolved to literal SQL. It is preserved verbatim, never
	// expanded.
	BlockUnsupportedMacro BlockKind = "UNSUPPORTED_MACRO"
	// BlockUnknownDelimiter is a span of proprietary wrapper syntax
	// (here-doc markers, shell preamble) that is not SQL.
	BlockUnknownDelimiter BlockKind = "UNKNOWN_DELIMITER"
)

// Block is a contiguous span of source text produced by the extractor.
// Blocks cover the whole file with no gaps or overlaps, in offset order.
type Block struct {
	// StartOffset is the byte offset of the first byte of the span.
	StartOffset int
	// EndOffset is the byte offset one past the last byte of the span.
	EndOffset int
	// StartLine is the 1-based line number of the first line of the span.
	StartLine int
	// RawText is the exact source text of the span.
	RawText string
	// Kind classifies the span.
	Kind BlockKind
}

// StatementType classifies a SQL statement.
type StatementType string

const (
	StatementDDL   StatementType = "DDL"
	StatementDML   StatementType = "DML"
	StatementQuery StatementType = "QUERY"
)

// Location identifies where a statement or block came from.
type Location struct {
	File string
	// Line is the 1-based line of the first line of the unit.
	Line int
	// EndLine is the 1-based line of the last line of the unit.
	EndLine int
}

// String renders the location in file:line form used by failure markers.
func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Statement is a single SQL statement produced by the splitter.
type Statement struct {
	// Index is the position of the statement in the file-wide sequence.
	Index int
	// Block is the index of the source block the statement came from.
	// CTE name visibility never crosses block boundaries.
	Block int
	// Text is the statement text without the trailing terminator.
	Text string
	// Location is the source position of the statement.
	Location Location
	// Type classifies the statement as DDL, DML, or a query.
	Type StatementType
	// Diagnostic marks control/diagnostic statements (COMMIT, EXIT,
	// SELECT '...' FROM DUAL) that are never sent to the converter.
	Diagnostic bool
	// CTENames are the identifiers bound by this statement's WITH clause.
	CTENames []string
	// CTERefs are identifiers referenced by this statement that were bound
	// by an earlier statement in the same block.
	CTERefs []string
}

// Chunk is an ordered, contiguous group of statements sent to the external
// converter as one unit. Chunk boundaries never cut a CTE dependency.
type Chunk struct {
	// ID is a deterministic sequence identifier ("c1", "c2", ...).
	ID string
	// Statements are the chunk's statements in original order.
	Statements []Statement
	// TokenEstimate is the estimated token size of the chunk.
	TokenEstimate int
	// Oversized marks a single-statement chunk that alone exceeds the
	// token budget.
	Oversized bool
}

// FailureCode is one of the closed set of failure marker codes.
type FailureCode string

const (
	CodeUnsupportedSequence  FailureCode = "UNSUPPORTED_SEQUENCE"
	CodeAmbiguousDateFormat  FailureCode = "AMBIGUOUS_DATE_FORMAT"
	CodeAmbiguousRownum      FailureCode = "AMBIGUOUS_ROWNUM"
	CodeUnsupportedMacro     FailureCode = "UNSUPPORTED_MACRO"
	CodeUnknownDelimiter     FailureCode = "UNKNOWN_DELIMITER"
	CodeConverterUnavailable FailureCode = "CONVERTER_UNAVAILABLE"
	CodeUnsupportedTruncUnit FailureCode = "UNSUPPORTED_TRUNC_UNIT"
	CodeUnsupportedDecode    FailureCode = "UNSUPPORTED_DECODE"
	CodeUnsupportedPivot     FailureCode = "UNSUPPORTED_PIVOT"
	CodeUnsupportedMerge     FailureCode = "UNSUPPORTED_MERGE"
	CodeUnsupportedUpdate    FailureCode = "UNSUPPORTED_UPDATE"
	CodeUnsupportedDelete    FailureCode = "UNSUPPORTED_DELETE"
)

// RewriteResult is the outcome of applying the rule table to one statement:
// either a fully rewritten text or a refusal with a code and reason.
type RewriteResult struct {
	// Rewritten is the transformed statement text. Valid only when
	// Unsupported is nil.
	Rewritten string
	// Unsupported is non-nil when any required sub-rewrite failed. The
	// whole statement fails; no partial output is ever produced.
	Unsupported *Refusal
}

// Refusal records why a statement could not be safely rewritten.
type Refusal struct {
	Code   FailureCode
	Reason string
}

// OK reports whether the rewrite succeeded.
func (r RewriteResult) OK() bool { return r.Unsupported == nil }

// FailureMarker is a terminal annotation for one statement or block.
// Once emitted it is never retried.
type FailureMarker struct {
	Code     FailureCode
	Reason   string
	Location Location
	ChunkID  string
}

// Render produces the single-line marker comment. The grammar is fixed;
// downstream SQL tooling treats these lines as comments.
func (m FailureMarker) Render() string {
	return fmt.Sprintf("-- HELIOS_FAILURE: %s | reason=%s; location=%s; chunk_id=%s",
		m.Code, m.Reason, m.Location, m.ChunkID)
}

// OutputUnit is one entry of the output document: either converted SQL text
// or a failure marker, for exactly one input statement or block.
type OutputUnit struct {
	// Index is the file-wide sequence position of the source unit.
	Index int
	// Location is the source position of the unit.
	Location Location
	// SQL is the converted statement text. Empty when Failure is non-nil.
	SQL string
	// Comment is an inert comment line emitted in place of a diagnostic
	// statement. Mutually exclusive with SQL and Failure.
	Comment string
	// Failure is non-nil when the unit could not be converted.
	Failure *FailureMarker
}
