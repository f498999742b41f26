package rules

import (
	"fmt"
	"strings"
	"testing"

	"github.com/helios-labs/helios/internal/core"
)

// fakeSchema is a fixed table -> columns map for update recomposition tests.
type fakeSchema map[string][]string

func (f fakeSchema) TableColumns(table string) ([]string, error) {
	cols, ok := f[strings.ToUpper(table)]
	if !ok {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return cols, nil
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.TableVersion == "" {
		cfg.TableVersion = "v1"
	}
	return New(cfg)
}

func apply(t *testing.T, e *Engine, text string) core.RewriteResult {
	t.Helper()
	return e.Apply(core.Statement{Text: text})
}

func wantRewrite(t *testing.T, e *Engine, in, want string) {
	t.Helper()
	res := apply(t, e, in)
	if !res.OK() {
		t.Fatalf("refused %q: %s %s", in, res.Unsupported.Code, res.Unsupported.Reason)
	}
	if res.Rewritten != want {
		t.Errorf("rewrite mismatch\n in: %s\ngot: %s\nwant: %s", in, res.Rewritten, want)
	}
}

func wantRefusal(t *testing.T, e *Engine, in string, code core.FailureCode) {
	t.Helper()
	res := apply(t, e, in)
	if res.OK() {
		t.Fatalf("expected refusal %s for %q, got %q", code, in, res.Rewritten)
	}
	if res.Unsupported.Code != code {
		t.Errorf("refusal code = %s, want %s (reason: %s)", res.Unsupported.Code, code, res.Unsupported.Reason)
	}
}

func TestSequenceGuard(t *testing.T) {
	e := newEngine(t, Config{})
	wantRefusal(t, e, "SELECT order_seq.NEXTVAL FROM dual", core.CodeUnsupportedSequence)
	wantRefusal(t, e, "INSERT INTO t VALUES (my_seq.currval, 1)", core.CodeUnsupportedSequence)
	// Guard wins over everything else in the statement.
	wantRefusal(t, e, "SELECT NVL(a, 0), seq.NEXTVAL FROM t", core.CodeUnsupportedSequence)
	// Literal text never triggers the guard.
	wantRewrite(t, e, "SELECT 'use seq.nextval here' FROM t", "SELECT 'use seq.nextval here' FROM t")
}

func TestPivotGuard(t *testing.T) {
	e := newEngine(t, Config{})
	wantRefusal(t, e, "SELECT * FROM sales PIVOT (SUM(amt) FOR region IN ('N','S'))", core.CodeUnsupportedPivot)
	wantRefusal(t, e, "SELECT * FROM t UNPIVOT (val FOR k IN (a, b))", core.CodeUnsupportedPivot)
	wantRewrite(t, e, "SELECT pivot_flag FROM t", "SELECT pivot_flag FROM t")
}

func TestHintDrop(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT /*+ PARALLEL(t, 8) */ a FROM t",
		"SELECT  a FROM t")
	// Plain comments stay.
	wantRewrite(t, e,
		"SELECT /* keep me */ a FROM t",
		"SELECT /* keep me */ a FROM t")
	// Unterminated hint is left alone.
	wantRewrite(t, e,
		"SELECT /*+ PARALLEL a FROM t",
		"SELECT /*+ PARALLEL a FROM t")
}

func TestNVL(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e, "SELECT NVL(a, 0) FROM t", "SELECT COALESCE(a, 0) FROM t")
	wantRewrite(t, e,
		"SELECT NVL(a, NVL(b, 0)) FROM t",
		"SELECT COALESCE(a, COALESCE(b, 0)) FROM t")
	wantRewrite(t, e,
		"SELECT nvl(x, 'n/a') FROM t WHERE nvl(y, 0) > 1",
		"SELECT COALESCE(x, 'n/a') FROM t WHERE COALESCE(y, 0) > 1")
	// Commas inside a literal argument do not split.
	wantRewrite(t, e, "SELECT NVL(a, 'x,y') FROM t", "SELECT COALESCE(a, 'x,y') FROM t")
	// Identifier suffix match must not fire.
	wantRewrite(t, e, "SELECT my_nvl(a, 0) FROM t", "SELECT my_nvl(a, 0) FROM t")
}

func TestDecode(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT DECODE(status, 'A', 1, 'B', 2, 0) FROM t",
		"SELECT CASE WHEN status = 'A' THEN 1 WHEN status = 'B' THEN 2 ELSE 0 END FROM t")
	wantRewrite(t, e,
		"SELECT DECODE(flag, 1, 'yes') FROM t",
		"SELECT CASE WHEN flag = 1 THEN 'yes' ELSE NULL END FROM t")
	wantRefusal(t, e, "SELECT DECODE(a, b) FROM t", core.CodeUnsupportedDecode)
}

func TestDecodeNullSearchValue(t *testing.T) {
	// DECODE(x, NULL, …) matches when x IS NULL; `x = NULL` never would.
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT DECODE(x, NULL, 'missing', 'present') FROM t",
		"SELECT CASE WHEN x IS NULL THEN 'missing' ELSE 'present' END FROM t")
	wantRewrite(t, e,
		"SELECT DECODE(x, null, 0, 'A', 1, 2) FROM t",
		"SELECT CASE WHEN x IS NULL THEN 0 WHEN x = 'A' THEN 1 ELSE 2 END FROM t")
	// A NULL result value stays a plain THEN arm.
	wantRewrite(t, e,
		"SELECT DECODE(x, 'A', NULL, 1) FROM t",
		"SELECT CASE WHEN x = 'A' THEN NULL ELSE 1 END FROM t")
}

func TestSysdate(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT SYSDATE FROM dual_t",
		"SELECT current_timestamp() FROM dual_t")
	wantRewrite(t, e,
		"SELECT sysdate, sysdate FROM t",
		"SELECT current_timestamp(), current_timestamp() FROM t")
	// Not inside identifiers or literals.
	wantRewrite(t, e, "SELECT my_sysdate_col FROM t", "SELECT my_sysdate_col FROM t")
	wantRewrite(t, e, "SELECT 'sysdate' FROM t", "SELECT 'sysdate' FROM t")
}

func TestToChar(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT TO_CHAR(d, 'YYYY-MM-DD') FROM t",
		"SELECT date_format(d, 'yyyy-MM-dd') FROM t")
	wantRewrite(t, e,
		"SELECT TO_CHAR(ts, 'YYYY-MM-DD HH24:MI:SS') FROM t",
		"SELECT date_format(ts, 'yyyy-MM-dd HH:mm:ss') FROM t")
	wantRefusal(t, e, "SELECT TO_CHAR(d, 'Q') FROM t", core.CodeAmbiguousDateFormat)
	wantRefusal(t, e, "SELECT TO_CHAR(d, 'YYYY-MM-DD DAY') FROM t", core.CodeAmbiguousDateFormat)
	// Single-argument TO_CHAR passes through for the converter.
	wantRewrite(t, e, "SELECT TO_CHAR(n) FROM t", "SELECT TO_CHAR(n) FROM t")
}

func TestToDate(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT TO_DATE('20240101', 'YYYYMMDD') FROM t",
		"SELECT to_date('20240101', 'yyyyMMdd') FROM t")
	wantRefusal(t, e, "SELECT TO_DATE(s, 'YYYY-IW') FROM t", core.CodeAmbiguousDateFormat)
}

func TestToDateMinusN(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT * FROM t WHERE d > TO_DATE('20240101', 'YYYYMMDD') - 7",
		"SELECT * FROM t WHERE d > date_sub(to_date('20240101', 'yyyyMMdd'), 7)")
	// A minus that is not followed by a number leaves TO_DATE for the plain rewrite.
	wantRewrite(t, e,
		"SELECT TO_DATE('20240101', 'YYYYMMDD') - interval_col FROM t",
		"SELECT to_date('20240101', 'yyyyMMdd') - interval_col FROM t")
}

func TestFormatAllowList(t *testing.T) {
	e := newEngine(t, Config{DateFormats: []string{"YYYY", "MM", "DD"}})
	wantRewrite(t, e,
		"SELECT TO_CHAR(d, 'YYYY-MM-DD') FROM t",
		"SELECT date_format(d, 'yyyy-MM-dd') FROM t")
	// HH24 is in the built-in table but outside the configured allow-list.
	wantRefusal(t, e, "SELECT TO_CHAR(d, 'HH24:MI') FROM t", core.CodeAmbiguousDateFormat)
}

func TestTrunc(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT TRUNC(d) FROM t",
		"SELECT date_trunc('DAY', d) FROM t")
	wantRewrite(t, e,
		"SELECT TRUNC(d, 'MM') FROM t",
		"SELECT date_trunc('MM', d) FROM t")
	wantRewrite(t, e,
		"SELECT TRUNC(d, 'YYYY') FROM t",
		"SELECT date_trunc('YEAR', d) FROM t")
	wantRefusal(t, e, "SELECT TRUNC(d, 'W') FROM t", core.CodeUnsupportedTruncUnit)
	wantRefusal(t, e, "SELECT TRUNC(d, fmt_col) FROM t", core.CodeUnsupportedTruncUnit)
}

func TestRownum(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT a FROM t WHERE ROWNUM <= 10",
		"SELECT a FROM t LIMIT 10")
	wantRewrite(t, e,
		"SELECT a FROM t WHERE ROWNUM < 10",
		"SELECT a FROM t LIMIT 9")
	wantRewrite(t, e,
		"SELECT a FROM t WHERE b = 1 AND ROWNUM <= 5",
		"SELECT a FROM t WHERE b = 1 LIMIT 5")
	// ORDER BY makes the row cutoff order-dependent.
	wantRefusal(t, e,
		"SELECT a FROM t WHERE ROWNUM <= 10 ORDER BY a", core.CodeAmbiguousRownum)
	// ROWNUM anywhere else is ambiguous.
	wantRefusal(t, e, "SELECT ROWNUM, a FROM t", core.CodeAmbiguousRownum)
	wantRefusal(t, e,
		"SELECT a FROM t WHERE ROWNUM <= 10 AND b = 1", core.CodeAmbiguousRownum)
	wantRefusal(t, e,
		"SELECT a, ROWNUM FROM t WHERE ROWNUM <= 10", core.CodeAmbiguousRownum)
	// Literal mention is not a use.
	wantRewrite(t, e, "SELECT 'rownum' FROM t", "SELECT 'rownum' FROM t")
}

func TestRownumKeepsTrailingComment(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT a FROM t WHERE ROWNUM <= 5 -- top five",
		"SELECT a FROM t LIMIT 5 -- top five")
	wantRewrite(t, e,
		"SELECT a FROM t WHERE b = 1 AND ROWNUM < 3 /* cap */",
		"SELECT a FROM t WHERE b = 1 LIMIT 2 /* cap */")
}

func TestDeleteGuard(t *testing.T) {
	hive := newEngine(t, Config{Provider: "hive"})
	wantRefusal(t, hive, "DELETE FROM t WHERE a = 1", core.CodeUnsupportedDelete)

	delta := newEngine(t, Config{Provider: "delta"})
	wantRewrite(t, delta, "DELETE FROM t WHERE a = 1", "DELETE FROM t WHERE a = 1")
}

func TestApply_WholeStatementFails(t *testing.T) {
	// One failing sub-rewrite fails the statement; the NVL part must not
	// leak through as a partial rewrite.
	e := newEngine(t, Config{})
	res := apply(t, e, "SELECT NVL(a, 0), TO_CHAR(d, 'Q') FROM t")
	if res.OK() {
		t.Fatalf("expected refusal, got %q", res.Rewritten)
	}
	if res.Rewritten != "" {
		t.Errorf("partial rewrite leaked: %q", res.Rewritten)
	}
	if res.Unsupported.Code != core.CodeAmbiguousDateFormat {
		t.Errorf("code = %s, want %s", res.Unsupported.Code, core.CodeAmbiguousDateFormat)
	}
}

func TestApply_Deterministic(t *testing.T) {
	e := newEngine(t, Config{})
	in := "SELECT NVL(a, 0), TO_CHAR(d, 'YYYY-MM-DD'), SYSDATE FROM t WHERE ROWNUM <= 3"
	first := apply(t, e, in)
	for range 10 {
		again := apply(t, e, in)
		if again.OK() != first.OK() || again.Rewritten != first.Rewritten {
			t.Fatal("rewrite changed between identical applications")
		}
	}
}

func TestApply_ComposedRewrites(t *testing.T) {
	e := newEngine(t, Config{})
	wantRewrite(t, e,
		"SELECT NVL(TO_CHAR(d, 'YYYYMMDD'), 'none'), SYSDATE FROM t",
		"SELECT COALESCE(date_format(d, 'yyyyMMdd'), 'none'), current_timestamp() FROM t")
}

func TestRules_TableShape(t *testing.T) {
	e := newEngine(t, Config{TableVersion: "v1"})
	if e.TableVersion() != "v1" {
		t.Errorf("version = %s", e.TableVersion())
	}
	rules := e.Rules()
	if len(rules) == 0 {
		t.Fatal("empty rule table")
	}
	if rules[0].Name != "sequence-guard" {
		t.Errorf("first rule = %s, guards must run first", rules[0].Name)
	}
	if rules[len(rules)-1].Name != "rownum" {
		t.Errorf("last rule = %s, rownum must run last", rules[len(rules)-1].Name)
	}
}
