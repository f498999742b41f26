package rules

// merge.go - Hive-provider MERGE handling. Classic Hive tables have no
// MERGE, so the statement is recomposed as an INSERT OVERWRITE over the
// union of updated, inserted, and preserved rows. The recomposition only
// fires when every clause parses cleanly; otherwise the statement is
// refused rather than approximated. Delta and Iceberg targets keep MERGE
// INTO untouched.

import (
	"fmt"
	"strings"

	"github.com/helios-labs/helios/internal/core"
)

// mergeParts holds the decomposed MERGE statement.
type mergeParts struct {
	targetTable string
	targetAlias string
	sourceQuery string
	sourceAlias string
	onCondition string
	leftJoin    bool              // (+) on the source side of ON selects LEFT JOIN
	updates     map[string]string // column -> update expression
	insertCols  []string
	insertVals  []string
}

func (e *Engine) applyMerge(text string) (string, *core.Refusal) {
	if !strings.EqualFold(firstWord(text), "MERGE") {
		return text, nil
	}
	if e.provider != "hive" {
		// Delta and Iceberg support MERGE INTO natively.
		return text, nil
	}
	parts, err := parseMerge(text)
	if err != nil {
		return "", &core.Refusal{
			Code:   core.CodeUnsupportedMerge,
			Reason: fmt.Sprintf("MERGE cannot be recomposed: %v", err),
		}
	}
	return composeInsertOverwrite(parts), nil
}

// composeInsertOverwrite builds the INSERT OVERWRITE recomposition. Column
// order follows the INSERT clause; columns without an update expression
// keep the existing target value.
func composeInsertOverwrite(p *mergeParts) string {
	joinKw := "JOIN"
	if p.leftJoin {
		joinKw = "LEFT JOIN"
	}

	updated := make([]string, len(p.insertCols))
	inserted := make([]string, len(p.insertCols))
	preserved := make([]string, len(p.insertCols))
	for i, col := range p.insertCols {
		expr, ok := p.updates[strings.ToUpper(col)]
		if !ok {
			expr = p.targetAlias + "." + col
		}
		updated[i] = fmt.Sprintf("%s AS %s", expr, col)
		inserted[i] = fmt.Sprintf("%s AS %s", p.insertVals[i], col)
		preserved[i] = fmt.Sprintf("%s.%s AS %s", p.targetAlias, col, col)
	}

	updatedSQL := fmt.Sprintf("SELECT %s FROM %s %s %s (\n%s\n) %s ON (%s)",
		strings.Join(updated, ", "), p.targetTable, p.targetAlias, joinKw,
		p.sourceQuery, p.sourceAlias, p.onCondition)
	insertedSQL := fmt.Sprintf("SELECT %s FROM (\n%s\n) %s LEFT ANTI JOIN %s %s ON (%s)",
		strings.Join(inserted, ", "), p.sourceQuery, p.sourceAlias,
		p.targetTable, p.targetAlias, p.onCondition)
	preservedSQL := fmt.Sprintf("SELECT %s FROM %s %s LEFT ANTI JOIN (\n%s\n) %s ON (%s)",
		strings.Join(preserved, ", "), p.targetTable, p.targetAlias,
		p.sourceQuery, p.sourceAlias, p.onCondition)

	return fmt.Sprintf("INSERT OVERWRITE TABLE %s\nSELECT * FROM (\n%s\nUNION ALL\n%s\nUNION ALL\n%s\n) u",
		p.targetTable, updatedSQL, insertedSQL, preservedSQL)
}

// parseMerge decomposes MERGE INTO target [alias] USING ( subquery ) alias
// ON ( cond ) WHEN MATCHED THEN UPDATE SET ... WHEN NOT MATCHED THEN
// INSERT (cols) VALUES (vals). Any deviation from that shape is an error.
func parseMerge(text string) (*mergeParts, error) {
	upper := strings.ToUpper(text)
	if !strings.HasPrefix(strings.TrimSpace(upper), "MERGE INTO ") {
		return nil, fmt.Errorf("statement does not start with MERGE INTO")
	}
	intoStart := strings.Index(upper, "MERGE INTO ") + len("MERGE INTO ")
	usingIdx := strings.Index(upper, " USING ")
	if usingIdx < 0 {
		return nil, fmt.Errorf("missing USING clause")
	}
	intoTokens := strings.Fields(text[intoStart:usingIdx])
	if len(intoTokens) == 0 {
		return nil, fmt.Errorf("missing target table")
	}
	p := &mergeParts{
		targetTable: intoTokens[0],
		targetAlias: "A",
	}
	if len(intoTokens) > 1 {
		p.targetAlias = intoTokens[1]
	}

	// USING ( subquery ) alias
	rest := text[usingIdx+len(" USING "):]
	off := strings.Index(rest, "(")
	if off < 0 || strings.TrimSpace(rest[:off]) != "" {
		return nil, fmt.Errorf("USING source is not a parenthesised subquery")
	}
	rparen := matchParen(rest, off)
	if rparen < 0 {
		return nil, fmt.Errorf("unbalanced USING subquery")
	}
	p.sourceQuery = strings.TrimSpace(rest[off+1 : rparen])
	rest = strings.TrimSpace(rest[rparen+1:])
	aliasFields := strings.Fields(rest)
	if len(aliasFields) == 0 {
		return nil, fmt.Errorf("missing source alias")
	}
	p.sourceAlias = aliasFields[0]
	rest = strings.TrimSpace(rest[len(p.sourceAlias):])

	// ON ( condition )
	restUpper := strings.ToUpper(rest)
	if !strings.HasPrefix(restUpper, "ON") {
		return nil, fmt.Errorf("missing ON clause")
	}
	rest = strings.TrimSpace(rest[2:])
	if !strings.HasPrefix(rest, "(") {
		return nil, fmt.Errorf("ON condition is not parenthesised")
	}
	rparen = matchParen(rest, 0)
	if rparen < 0 {
		return nil, fmt.Errorf("unbalanced ON condition")
	}
	on := strings.TrimSpace(rest[1:rparen])
	p.leftJoin = strings.Contains(on, "(+)") && strings.Contains(on, p.sourceAlias+".")
	p.onCondition = strings.TrimSpace(strings.ReplaceAll(on, "(+)", ""))
	rest = rest[rparen+1:]

	// WHEN MATCHED THEN UPDATE SET ...
	restUpper = strings.ToUpper(rest)
	wmIdx := strings.Index(restUpper, "WHEN MATCHED THEN")
	if wmIdx < 0 {
		return nil, fmt.Errorf("missing WHEN MATCHED clause")
	}
	afterWM := rest[wmIdx+len("WHEN MATCHED THEN"):]
	usIdx := strings.Index(strings.ToUpper(afterWM), "UPDATE SET")
	if usIdx < 0 {
		return nil, fmt.Errorf("WHEN MATCHED without UPDATE SET")
	}
	afterSet := afterWM[usIdx+len("UPDATE SET"):]
	wnmIdx := strings.Index(strings.ToUpper(afterSet), "WHEN NOT MATCHED")
	if wnmIdx < 0 {
		return nil, fmt.Errorf("missing WHEN NOT MATCHED clause")
	}

	p.updates = map[string]string{}
	for _, pair := range splitArgs(afterSet[:wnmIdx]) {
		eq := strings.Index(pair, "=")
		if eq < 0 {
			return nil, fmt.Errorf("malformed UPDATE SET assignment %q", pair)
		}
		col := stripAlias(pair[:eq])
		p.updates[strings.ToUpper(col)] = strings.TrimSpace(pair[eq+1:])
	}

	// WHEN NOT MATCHED THEN INSERT (cols) VALUES (vals)
	afterWNM := afterSet[wnmIdx:]
	insIdx := strings.Index(strings.ToUpper(afterWNM), "INSERT")
	if insIdx < 0 {
		return nil, fmt.Errorf("WHEN NOT MATCHED without INSERT")
	}
	afterIns := strings.TrimSpace(afterWNM[insIdx+len("INSERT"):])
	if !strings.HasPrefix(afterIns, "(") {
		return nil, fmt.Errorf("INSERT without explicit column list")
	}
	rparen = matchParen(afterIns, 0)
	if rparen < 0 {
		return nil, fmt.Errorf("unbalanced INSERT column list")
	}
	for _, c := range splitArgs(afterIns[1:rparen]) {
		p.insertCols = append(p.insertCols, stripAlias(c))
	}
	afterCols := afterIns[rparen+1:]
	valIdx := strings.Index(strings.ToUpper(afterCols), "VALUES")
	if valIdx < 0 {
		return nil, fmt.Errorf("INSERT without VALUES")
	}
	afterVals := strings.TrimSpace(afterCols[valIdx+len("VALUES"):])
	if !strings.HasPrefix(afterVals, "(") {
		return nil, fmt.Errorf("VALUES list is not parenthesised")
	}
	rparen = matchParen(afterVals, 0)
	if rparen < 0 {
		return nil, fmt.Errorf("unbalanced VALUES list")
	}
	p.insertVals = splitArgs(afterVals[1:rparen])

	if len(p.insertCols) == 0 || len(p.insertCols) != len(p.insertVals) {
		return nil, fmt.Errorf("INSERT columns (%d) and VALUES (%d) do not line up",
			len(p.insertCols), len(p.insertVals))
	}
	return p, nil
}

// stripAlias removes a leading alias qualifier from a column reference
// (A.COL -> COL).
func stripAlias(col string) string {
	c := strings.TrimSpace(col)
	if dot := strings.Index(c, "."); dot >= 0 {
		return c[dot+1:]
	}
	return c
}
