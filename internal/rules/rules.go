// Package rules implements the safe-rewrite rule engine. Rules are pure,
// stateless transformations applied to one statement in a fixed, documented
// order; a rule either rewrites a construct with provable equivalence or
// refuses with a failure code. A refusal by any rule fails the whole
// statement: partially rewritten statements are never produced.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/helios-labs/helios/internal/core"
)

// SchemaResolver supplies ordered column lists for target tables. The hive
// UPDATE recomposition needs the full column list; a resolver miss makes
// the rewrite refuse.
type SchemaResolver interface {
	TableColumns(table string) ([]string, error)
}

// Config configures the rule engine.
type Config struct {
	// Provider selects the target table format: hive, delta, or iceberg.
	// MERGE/UPDATE/DELETE handling differs per provider.
	Provider string
	// DateFormats is the allow-list of Oracle date format tokens. Empty
	// enables the built-in table.
	DateFormats []string
	// Schema resolves target table columns for the UPDATE recomposition.
	// Optional; without it hive UPDATE statements are refused.
	Schema SchemaResolver
	// TableVersion identifies the active rule table in logs and output.
	TableVersion string
}

// Rule describes one entry of the rewrite table.
type Rule struct {
	// Name is the rule's stable identifier.
	Name string
	// Construct is the Oracle construct the rule recognizes.
	Construct string
	// Action summarizes the transformation.
	Action string
	// FailCode is the failure code the rule can emit; empty for total
	// rules that never refuse.
	FailCode core.FailureCode

	apply func(e *Engine, text string) (string, *core.Refusal)
}

// Engine applies the rule table to statements.
type Engine struct {
	provider string
	formats  *FormatMapper
	schema   SchemaResolver
	version  string
	rules    []Rule
}

// New creates a rule engine. The rule table order is fixed: guards first
// (sequence, pivot), then statement-shape rewrites (hints, merge, update),
// then expression rewrites in the order the original constructs compose
// (date arithmetic before to_date, nvl/decode/sysdate, format-bearing
// functions, trunc, rownum last).
func New(cfg Config) *Engine {
	e := &Engine{
		provider: strings.ToLower(cfg.Provider),
		formats:  NewFormatMapper(cfg.DateFormats),
		schema:   cfg.Schema,
		version:  cfg.TableVersion,
	}
	if e.provider == "" {
		e.provider = "hive"
	}
	e.rules = []Rule{
		{
			Name:      "sequence-guard",
			Construct: "sequence.NEXTVAL / sequence.CURRVAL",
			Action:    "never rewritten",
			FailCode:  core.CodeUnsupportedSequence,
			apply:     (*Engine).applySequenceGuard,
		},
		{
			Name:      "pivot-guard",
			Construct: "PIVOT / UNPIVOT",
			Action:    "rewritten only with proven identical semantics",
			FailCode:  core.CodeUnsupportedPivot,
			apply:     (*Engine).applyPivotGuard,
		},
		{
			Name:      "hint-drop",
			Construct: "/*+ ... */ optimizer hints",
			Action:    "dropped (comment hints are inert in Spark)",
			apply:     (*Engine).applyHintDrop,
		},
		{
			Name:      "merge-recompose",
			Construct: "MERGE INTO ... WHEN MATCHED / WHEN NOT MATCHED",
			Action:    "hive: recomposed as INSERT OVERWRITE union",
			FailCode:  core.CodeUnsupportedMerge,
			apply:     (*Engine).applyMerge,
		},
		{
			Name:      "update-recompose",
			Construct: "UPDATE ... SET ... [WHERE ...]",
			Action:    "hive: recomposed as INSERT OVERWRITE with per-column CASE",
			FailCode:  core.CodeUnsupportedUpdate,
			apply:     (*Engine).applyUpdate,
		},
		{
			Name:      "delete-guard",
			Construct: "DELETE FROM ...",
			Action:    "hive: never rewritten",
			FailCode:  core.CodeUnsupportedDelete,
			apply:     (*Engine).applyDeleteGuard,
		},
		{
			Name:      "date-sub",
			Construct: "TO_DATE(x, fmt) - N",
			Action:    "rewritten to date_sub(TO_DATE(x, fmt), N)",
			apply:     (*Engine).applyToDateMinusN,
		},
		{
			Name:      "nvl",
			Construct: "NVL(a, b)",
			Action:    "rewritten to COALESCE(a, b)",
			apply:     (*Engine).applyNVL,
		},
		{
			Name:      "decode",
			Construct: "DECODE(expr, v1, r1, ..., default)",
			Action:    "rewritten to CASE WHEN ... END",
			FailCode:  core.CodeUnsupportedDecode,
			apply:     (*Engine).applyDecode,
		},
		{
			Name:      "sysdate",
			Construct: "SYSDATE",
			Action:    "rewritten to current_timestamp()",
			apply:     (*Engine).applySysdate,
		},
		{
			Name:      "to-char",
			Construct: "TO_CHAR(expr, 'fmt')",
			Action:    "rewritten to date_format(expr, 'fmt')",
			FailCode:  core.CodeAmbiguousDateFormat,
			apply:     (*Engine).applyToChar,
		},
		{
			Name:      "to-date",
			Construct: "TO_DATE(expr, 'fmt')",
			Action:    "rewritten to to_date(expr, 'fmt')",
			FailCode:  core.CodeAmbiguousDateFormat,
			apply:     (*Engine).applyToDate,
		},
		{
			Name:      "trunc",
			Construct: "TRUNC(expr[, 'unit'])",
			Action:    "rewritten to date_trunc('unit', expr)",
			FailCode:  core.CodeUnsupportedTruncUnit,
			apply:     (*Engine).applyTrunc,
		},
		{
			Name:      "rownum",
			Construct: "WHERE ROWNUM <= N",
			Action:    "rewritten to LIMIT N when unambiguous",
			FailCode:  core.CodeAmbiguousRownum,
			apply:     (*Engine).applyRownum,
		},
	}
	return e
}

// TableVersion returns the configured rule table identifier.
func (e *Engine) TableVersion() string { return e.version }

// Rules returns the rule table in application order, for display.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Apply runs the full rule table over one statement. Deterministic for
// identical input: rules run in fixed order and hold no state.
func (e *Engine) Apply(st core.Statement) core.RewriteResult {
	text := st.Text
	for i := range e.rules {
		rewritten, refusal := e.rules[i].apply(e, text)
		if refusal != nil {
			return core.RewriteResult{Unsupported: refusal}
		}
		text = rewritten
	}
	return core.RewriteResult{Rewritten: text}
}

// ---- guards ----

var (
	sequencePattern = regexp.MustCompile(`(?i)\b[a-z_][a-z0-9_$#]*\.(nextval|currval)\b`)
	pivotPattern    = regexp.MustCompile(`(?i)\b(?:unpivot|pivot)\s*(?:xml\s*)?\(`)
	orderByPattern  = regexp.MustCompile(`(?i)\border\s+by\b`)
	rownumPattern   = regexp.MustCompile(`(?i)\brownum\b`)
	rownumGuard     = regexp.MustCompile(`(?i)\b(where|and)\s+rownum\s*(<=|<)\s*(\d+)\s*$`)
)

func (e *Engine) applySequenceGuard(text string) (string, *core.Refusal) {
	if m := sequencePattern.FindString(maskLiterals(text)); m != "" {
		return "", &core.Refusal{
			Code:   core.CodeUnsupportedSequence,
			Reason: fmt.Sprintf("sequence reference %s has no Spark equivalent", strings.ToUpper(m)),
		}
	}
	return text, nil
}

func (e *Engine) applyPivotGuard(text string) (string, *core.Refusal) {
	if pivotPattern.MatchString(maskLiterals(text)) {
		return "", &core.Refusal{
			Code:   core.CodeUnsupportedPivot,
			Reason: "PIVOT/UNPIVOT semantics cannot be proven identical",
		}
	}
	return text, nil
}

func (e *Engine) applyDeleteGuard(text string) (string, *core.Refusal) {
	if e.provider != "hive" {
		return text, nil
	}
	if strings.EqualFold(firstWord(text), "DELETE") {
		return "", &core.Refusal{
			Code:   core.CodeUnsupportedDelete,
			Reason: "DELETE is not supported without ACID table providers",
		}
	}
	return text, nil
}

// applyHintDrop removes /*+ ... */ hint comments. Comment-form hints are
// inert in Spark SQL, so removal cannot change semantics. An unterminated
// hint is left untouched.
func (e *Engine) applyHintDrop(text string) (string, *core.Refusal) {
	var out strings.Builder
	i := 0
	for i < len(text) {
		if strings.HasPrefix(text[i:], "/*+") {
			end := strings.Index(text[i+3:], "*/")
			if end < 0 {
				out.WriteString(text[i:])
				break
			}
			i += 3 + end + 2
			continue
		}
		out.WriteByte(text[i])
		i++
	}
	return out.String(), nil
}

// ---- expression rewrites ----

func (e *Engine) applyNVL(text string) (string, *core.Refusal) {
	ranges := findFuncRanges(text, "NVL")
	if len(ranges) == 0 {
		return text, nil
	}
	repls := make([]string, len(ranges))
	for i, r := range ranges {
		args := splitArgs(text[r.lparen+1 : r.rparen])
		if len(args) >= 2 {
			repls[i] = "COALESCE(" + strings.Join(args, ", ") + ")"
		} else {
			repls[i] = text[r.nameStart : r.rparen+1]
		}
	}
	return replaceRanges(text, ranges, repls), nil
}

func (e *Engine) applyDecode(text string) (string, *core.Refusal) {
	ranges := findFuncRanges(text, "DECODE")
	if len(ranges) == 0 {
		return text, nil
	}
	repls := make([]string, len(ranges))
	for i, r := range ranges {
		args := splitArgs(text[r.lparen+1 : r.rparen])
		if len(args) < 3 {
			return "", &core.Refusal{
				Code:   core.CodeUnsupportedDecode,
				Reason: fmt.Sprintf("DECODE with %d arguments has no provable CASE equivalent", len(args)),
			}
		}
		expr := args[0]
		pairs := args[1:]
		def := "NULL"
		if len(pairs)%2 == 1 {
			def = pairs[len(pairs)-1]
			pairs = pairs[:len(pairs)-1]
		}
		var b strings.Builder
		b.WriteString("CASE")
		for j := 0; j < len(pairs); j += 2 {
			// DECODE null-matches: a literal NULL search value hits when
			// the expression IS NULL, which `= NULL` never would.
			if strings.EqualFold(strings.TrimSpace(pairs[j]), "NULL") {
				fmt.Fprintf(&b, " WHEN %s IS NULL THEN %s", expr, pairs[j+1])
			} else {
				fmt.Fprintf(&b, " WHEN %s = %s THEN %s", expr, pairs[j], pairs[j+1])
			}
		}
		fmt.Fprintf(&b, " ELSE %s END", def)
		repls[i] = b.String()
	}
	return replaceRanges(text, ranges, repls), nil
}

var sysdatePattern = regexp.MustCompile(`(?i)\bsysdate\b`)

func (e *Engine) applySysdate(text string) (string, *core.Refusal) {
	mask := maskLiterals(text)
	locs := sysdatePattern.FindAllStringIndex(mask, -1)
	if len(locs) == 0 {
		return text, nil
	}
	var out strings.Builder
	last := 0
	for _, loc := range locs {
		out.WriteString(text[last:loc[0]])
		out.WriteString("current_timestamp()")
		last = loc[1]
	}
	out.WriteString(text[last:])
	return out.String(), nil
}

// applyFormatFunc handles the shared TO_CHAR/TO_DATE shape: two arguments
// where the second is a quoted format literal. Other arities pass through
// untouched for the converter to translate.
func (e *Engine) applyFormatFunc(text, oracleName, sparkName string) (string, *core.Refusal) {
	ranges := findFuncRanges(text, oracleName)
	if len(ranges) == 0 {
		return text, nil
	}
	repls := make([]string, len(ranges))
	for i, r := range ranges {
		args := splitArgs(text[r.lparen+1 : r.rparen])
		if len(args) != 2 || !isQuoted(args[1]) {
			repls[i] = text[r.nameStart : r.rparen+1]
			continue
		}
		raw := args[1][1 : len(args[1])-1]
		mapped, ok := e.formats.Map(raw)
		if !ok {
			return "", &core.Refusal{
				Code:   core.CodeAmbiguousDateFormat,
				Reason: fmt.Sprintf("format '%s' is not in the supported mapping table", raw),
			}
		}
		repls[i] = fmt.Sprintf("%s(%s, '%s')", sparkName, args[0], mapped)
	}
	return replaceRanges(text, ranges, repls), nil
}

func (e *Engine) applyToChar(text string) (string, *core.Refusal) {
	return e.applyFormatFunc(text, "TO_CHAR", "date_format")
}

func (e *Engine) applyToDate(text string) (string, *core.Refusal) {
	return e.applyFormatFunc(text, "TO_DATE", "to_date")
}

// truncUnits maps Oracle TRUNC units to date_trunc fields.
var truncUnits = map[string]string{
	"DD": "DAY", "DDD": "DAY", "J": "DAY",
	"MM": "MM", "MON": "MM", "MONTH": "MM",
	"YYYY": "YEAR", "YY": "YEAR", "YEAR": "YEAR",
}

func (e *Engine) applyTrunc(text string) (string, *core.Refusal) {
	ranges := findFuncRanges(text, "TRUNC")
	if len(ranges) == 0 {
		return text, nil
	}
	repls := make([]string, len(ranges))
	for i, r := range ranges {
		args := splitArgs(text[r.lparen+1 : r.rparen])
		switch {
		case len(args) == 1:
			repls[i] = fmt.Sprintf("date_trunc('DAY', %s)", args[0])
		case len(args) == 2 && isQuoted(args[1]):
			unit, ok := truncUnits[strings.ToUpper(args[1][1:len(args[1])-1])]
			if !ok {
				return "", &core.Refusal{
					Code:   core.CodeUnsupportedTruncUnit,
					Reason: fmt.Sprintf("TRUNC unit %s is not in the supported set", args[1]),
				}
			}
			repls[i] = fmt.Sprintf("date_trunc('%s', %s)", unit, args[0])
		default:
			return "", &core.Refusal{
				Code:   core.CodeUnsupportedTruncUnit,
				Reason: "TRUNC unit is not a literal",
			}
		}
	}
	return replaceRanges(text, ranges, repls), nil
}

// applyRownum rewrites the single unambiguous ROWNUM shape: a trailing
// "WHERE ROWNUM <= N" (or "< N", or a trailing "AND ROWNUM <= N" conjunct)
// on a statement without ORDER BY, which maps to LIMIT. Every other use
// depends on an evaluation order the statement text does not determine.
func (e *Engine) applyRownum(text string) (string, *core.Refusal) {
	mask := maskLiterals(text)
	occurrences := rownumPattern.FindAllStringIndex(mask, -1)
	if len(occurrences) == 0 {
		return text, nil
	}
	guard := rownumGuard.FindStringSubmatchIndex(strings.TrimRight(mask, " \t\r\n"))
	trimmed := strings.TrimRight(text, " \t\r\n")
	if len(occurrences) != 1 || guard == nil || orderByPattern.MatchString(mask) {
		return "", &core.Refusal{
			Code:   core.CodeAmbiguousRownum,
			Reason: "ROWNUM ordering context cannot be determined unambiguously",
		}
	}
	op := trimmed[guard[4]:guard[5]]
	n := trimmed[guard[6]:guard[7]]
	limit := n
	if op == "<" {
		v := 0
		fmt.Sscanf(n, "%d", &v)
		limit = fmt.Sprintf("%d", v-1)
	}
	// For "WHERE ROWNUM <= N" the whole clause goes; for a trailing
	// "AND ROWNUM <= N" conjunct only the conjunct goes.
	head := strings.TrimRight(trimmed[:guard[0]], " \t\r\n")
	// Anything after N passed the end anchor only because masking blanked
	// it, so it can only be comment text; keep it.
	if tail := strings.TrimSpace(trimmed[guard[7]:]); tail != "" {
		return fmt.Sprintf("%s LIMIT %s %s", head, limit, tail), nil
	}
	return fmt.Sprintf("%s LIMIT %s", head, limit), nil
}

// applyToDateMinusN rewrites date arithmetic of the form TO_DATE(x, f) - N
// into date_sub(TO_DATE(x, f), N) ahead of the TO_DATE rewrite.
func (e *Engine) applyToDateMinusN(text string) (string, *core.Refusal) {
	var out strings.Builder
	i := 0
	for i < len(text) {
		ranges := findFuncRanges(text[i:], "TO_DATE")
		if len(ranges) == 0 {
			out.WriteString(text[i:])
			break
		}
		r := ranges[0]
		out.WriteString(text[i : i+r.nameStart])

		inner := text[i+r.lparen+1 : i+r.rparen]
		rest := i + r.rparen + 1
		k := rest
		for k < len(text) && isSpace(text[k]) {
			k++
		}
		if k < len(text) && text[k] == '-' {
			k++
			for k < len(text) && isSpace(text[k]) {
				k++
			}
			numStart := k
			for k < len(text) && text[k] >= '0' && text[k] <= '9' {
				k++
			}
			if k > numStart {
				fmt.Fprintf(&out, "date_sub(TO_DATE(%s), %s)", inner, text[numStart:k])
				i = k
				continue
			}
		}
		out.WriteString(text[i+r.nameStart : rest])
		i = rest
	}
	return out.String(), nil
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\''
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func firstWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
