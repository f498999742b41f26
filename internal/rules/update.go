package rules

// update.go - Hive-provider UPDATE handling. Classic Hive tables cannot be
// updated in place, so UPDATE is recomposed as a full INSERT OVERWRITE that
// re-selects every column, applying the SET expressions under the WHERE
// condition. The recomposition needs the complete ordered column list of
// the target table from the schema resolver; without it the statement is
// refused.

import (
	"fmt"
	"strings"

	"github.com/helios-labs/helios/internal/core"
)

func (e *Engine) applyUpdate(text string) (string, *core.Refusal) {
	if !strings.EqualFold(firstWord(text), "UPDATE") {
		return text, nil
	}
	if e.provider != "hive" {
		return text, nil
	}
	if e.schema == nil {
		return "", &core.Refusal{
			Code:   core.CodeUnsupportedUpdate,
			Reason: "UPDATE needs the target column list but no schema resolver is configured",
		}
	}

	table, alias, sets, where, err := parseUpdate(text)
	if err != nil {
		return "", &core.Refusal{
			Code:   core.CodeUnsupportedUpdate,
			Reason: fmt.Sprintf("UPDATE cannot be recomposed: %v", err),
		}
	}

	columns, err := e.schema.TableColumns(table)
	if err != nil {
		return "", &core.Refusal{
			Code:   core.CodeUnsupportedUpdate,
			Reason: fmt.Sprintf("schema for %s could not be resolved: %v", table, err),
		}
	}

	// Every SET column must exist in the resolved schema, or the overwrite
	// would silently drop the assignment.
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[strings.ToUpper(c)] = true
	}
	for col := range sets {
		if !known[col] {
			return "", &core.Refusal{
				Code:   core.CodeUnsupportedUpdate,
				Reason: fmt.Sprintf("SET column %s is not in the resolved schema of %s", col, table),
			}
		}
	}

	exprs := make([]string, len(columns))
	for i, col := range columns {
		set, ok := sets[strings.ToUpper(col)]
		switch {
		case !ok:
			exprs[i] = col
		case where == "":
			exprs[i] = fmt.Sprintf("%s AS %s", set, col)
		default:
			exprs[i] = fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END AS %s", where, set, col, col)
		}
	}

	from := table
	if alias != "" {
		from = table + " " + alias
	}
	return fmt.Sprintf("INSERT OVERWRITE TABLE %s\nSELECT %s FROM %s",
		table, strings.Join(exprs, ", "), from), nil
}

// parseUpdate decomposes UPDATE table [alias] SET col = expr, ... [WHERE
// cond]. Subquery-bearing or multi-table forms do not parse and are
// refused by the caller.
func parseUpdate(text string) (table, alias string, sets map[string]string, where string, err error) {
	upper := strings.ToUpper(text)
	setIdx := strings.Index(upper, " SET ")
	if setIdx < 0 {
		return "", "", nil, "", fmt.Errorf("missing SET clause")
	}
	head := strings.Fields(text[len("UPDATE"):setIdx])
	if len(head) == 0 || len(head) > 2 {
		return "", "", nil, "", fmt.Errorf("target table does not parse")
	}
	table = head[0]
	if len(head) == 2 {
		alias = head[1]
	}

	rest := text[setIdx+len(" SET "):]
	whereIdx := indexWordFold(rest, "WHERE")
	if whereIdx >= 0 {
		where = strings.TrimSpace(rest[whereIdx+len("WHERE"):])
		rest = rest[:whereIdx]
	}

	sets = map[string]string{}
	for _, pair := range splitArgs(rest) {
		eq := strings.Index(pair, "=")
		if eq < 0 {
			return "", "", nil, "", fmt.Errorf("malformed SET assignment %q", pair)
		}
		col := stripAlias(pair[:eq])
		expr := strings.TrimSpace(pair[eq+1:])
		if strings.Contains(strings.ToUpper(expr), "SELECT ") {
			return "", "", nil, "", fmt.Errorf("SET from subquery is not supported")
		}
		sets[strings.ToUpper(col)] = expr
	}
	if len(sets) == 0 {
		return "", "", nil, "", fmt.Errorf("empty SET clause")
	}
	return table, alias, sets, where, nil
}

// indexWordFold finds the start of a standalone keyword, case-insensitively,
// outside string literals. Returns -1 when absent.
func indexWordFold(text, word string) int {
	mask := strings.ToUpper(maskLiterals(text))
	word = strings.ToUpper(word)
	from := 0
	for {
		i := strings.Index(mask[from:], word)
		if i < 0 {
			return -1
		}
		i += from
		before := i == 0 || !isIdentByte(mask[i-1])
		after := i+len(word) >= len(mask) || !isIdentByte(mask[i+len(word)])
		if before && after {
			return i
		}
		from = i + len(word)
	}
}
