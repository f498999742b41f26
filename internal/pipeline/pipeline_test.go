package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helios-labs/helios/internal/assemble"
	"github.com/helios-labs/helios/internal/config"
	"github.com/helios-labs/helios/internal/converter"
	"github.com/helios-labs/helios/internal/core"
	"github.com/helios-labs/helios/internal/rules"
	"github.com/helios-labs/helios/internal/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		TokenBudget:      200,
		SafetyMarginPct:  0.1,
		Provider:         "hive",
		RuleTableVersion: "v1",
		Converter: config.ConverterConfig{
			Workers:        4,
			MaxRetries:     2,
			RetryBackoffMS: 1,
		},
	}
}

func newPipeline(t *testing.T, cfg *config.Config, conv converter.Converter) *Pipeline {
	t.Helper()
	return New(Options{
		Config: cfg,
		Engine: rules.New(rules.Config{
			Provider:     cfg.Provider,
			TableVersion: cfg.RuleTableVersion,
		}),
		Converter: conv,
		Logger:    testutil.NewTestLogger(t),
	})
}

func run(t *testing.T, p *Pipeline, content string) *FileResult {
	t.Helper()
	res, err := p.Run(context.Background(), "in.sql", []byte(content))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestRun_UnitCountMatchesSource(t *testing.T) {
	// Every kind of input unit claims exactly one output slot: a macro
	// block, a converted statement, and a diagnostic comment together.
	p := newPipeline(t, testConfig(), converter.NewPassthrough())
	res := run(t, p, "DEFINE env = prod\nSELECT 1 FROM t;\nCOMMIT;\nSELECT NVL(a, 0) FROM t;\n")

	if len(res.Units) != 4 {
		t.Fatalf("got %d units, want 4", len(res.Units))
	}
	if res.Units[0].Failure == nil || res.Units[0].Failure.Code != core.CodeUnsupportedMacro {
		t.Errorf("unit 0 = %+v", res.Units[0])
	}
	if res.Units[1].SQL == "" {
		t.Errorf("unit 1 = %+v", res.Units[1])
	}
	if res.Units[2].Comment == "" {
		t.Errorf("unit 2 = %+v", res.Units[2])
	}
	if res.Units[3].SQL != "SELECT COALESCE(a, 0) FROM t" {
		t.Errorf("unit 3 = %q", res.Units[3].SQL)
	}
}

func TestRun_RewritesThroughPassthrough(t *testing.T) {
	p := newPipeline(t, testConfig(), converter.NewPassthrough())
	res := run(t, p, "SELECT NVL(a, 0) FROM t;\nSELECT SYSDATE FROM t;\n")

	if len(res.Units) != 2 {
		t.Fatalf("got %d units", len(res.Units))
	}
	if res.Units[0].SQL != "SELECT COALESCE(a, 0) FROM t" {
		t.Errorf("unit 0 = %q", res.Units[0].SQL)
	}
	if res.Units[1].SQL != "SELECT current_timestamp() FROM t" {
		t.Errorf("unit 1 = %q", res.Units[1].SQL)
	}
	if res.Stats.Converted != 2 || res.Stats.Failed != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

func TestRun_RefusalProducesMarker(t *testing.T) {
	p := newPipeline(t, testConfig(), converter.NewPassthrough())
	res := run(t, p, "SELECT NVL(a, 0), seq.NEXTVAL FROM t;\nSELECT b FROM u;\n")

	if len(res.Units) != 2 {
		t.Fatalf("got %d units", len(res.Units))
	}
	u := res.Units[0]
	if u.Failure == nil {
		t.Fatalf("unit 0 should carry a marker, got %q", u.SQL)
	}
	if u.Failure.Code != core.CodeUnsupportedSequence {
		t.Errorf("code = %s", u.Failure.Code)
	}
	if u.Failure.ChunkID == "" || u.Failure.ChunkID == "none" {
		t.Errorf("chunk id = %q, statement-level refusals carry their chunk", u.Failure.ChunkID)
	}
	if u.Failure.Location.File != "in.sql" || u.Failure.Location.Line != 1 {
		t.Errorf("location = %+v", u.Failure.Location)
	}
	// The healthy neighbor still converts.
	if res.Units[1].SQL != "SELECT b FROM u" {
		t.Errorf("unit 1 = %q", res.Units[1].SQL)
	}
}

func TestRun_DiagnosticsBecomeComments(t *testing.T) {
	p := newPipeline(t, testConfig(), converter.NewPassthrough())
	res := run(t, p, "SELECT a FROM t;\nCOMMIT;\nSELECT 'phase 1 done' FROM DUAL;\n")

	if len(res.Units) != 3 {
		t.Fatalf("got %d units", len(res.Units))
	}
	if res.Units[1].Comment != "-- COMMIT" {
		t.Errorf("unit 1 comment = %q", res.Units[1].Comment)
	}
	if !strings.HasPrefix(res.Units[2].Comment, "-- SELECT 'phase 1 done'") {
		t.Errorf("unit 2 comment = %q", res.Units[2].Comment)
	}
	if res.Stats.Comments != 2 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

func TestRun_MacroBlockFails(t *testing.T) {
	p := newPipeline(t, testConfig(), converter.NewPassthrough())
	res := run(t, p, "SELECT a FROM t;\nDEFINE run_date = 20240101\nSELECT b FROM u;\n")

	if len(res.Units) != 3 {
		t.Fatalf("got %d units: %+v", len(res.Units), res.Units)
	}
	u := res.Units[1]
	if u.Failure == nil || u.Failure.Code != core.CodeUnsupportedMacro {
		t.Fatalf("unit 1 = %+v, want UNSUPPORTED_MACRO", u)
	}
	if u.Failure.ChunkID != "none" {
		t.Errorf("chunk id = %q, block-level failures have no chunk", u.Failure.ChunkID)
	}
	if u.Failure.Location.Line != 2 {
		t.Errorf("location line = %d, want 2", u.Failure.Location.Line)
	}
	// SQL on both sides of the macro still converts.
	if res.Units[0].SQL == "" || res.Units[2].SQL == "" {
		t.Errorf("surrounding SQL lost: %+v", res.Units)
	}
}

func TestRun_SubstitutionVariableFails(t *testing.T) {
	p := newPipeline(t, testConfig(), converter.NewPassthrough())
	res := run(t, p, "SELECT a FROM t;\nSELECT b FROM u WHERE d = &run_date;\n")

	if len(res.Units) != 2 {
		t.Fatalf("got %d units: %+v", len(res.Units), res.Units)
	}
	u := res.Units[1]
	if u.Failure == nil || u.Failure.Code != core.CodeUnsupportedMacro {
		t.Fatalf("unit 1 = %+v, want UNSUPPORTED_MACRO", u)
	}
}

func TestRun_EnvPlaceholderPreserved(t *testing.T) {
	p := newPipeline(t, testConfig(), converter.NewPassthrough())
	res := run(t, p, "SELECT * FROM t WHERE dt = '${RUN_DATE}';\n")
	if res.Units[0].Failure != nil {
		t.Fatalf("refused: %+v", res.Units[0].Failure)
	}
	if !strings.Contains(res.Units[0].SQL, "'${RUN_DATE}'") {
		t.Errorf("placeholder not preserved verbatim: %q", res.Units[0].SQL)
	}
}

func TestRun_ConverterRetrySucceeds(t *testing.T) {
	flaky := &converter.Flaky{Next: &converter.Mock{}, FailCount: 2}
	p := newPipeline(t, testConfig(), flaky)
	res := run(t, p, "SELECT a FROM t;\n")

	if res.Units[0].Failure != nil {
		t.Fatalf("marker after recoverable outage: %+v", res.Units[0].Failure)
	}
	if flaky.Attempts() != 3 {
		t.Errorf("attempts = %d, want initial try plus two retries", flaky.Attempts())
	}
}

func TestRun_ConverterExhaustionDegradesChunk(t *testing.T) {
	flaky := &converter.Flaky{Next: &converter.Mock{}, FailCount: 1000}
	p := newPipeline(t, testConfig(), flaky)
	res := run(t, p, "SELECT a FROM t;\nCOMMIT;\nSELECT b FROM u;\n")

	for _, i := range []int{0, 2} {
		u := res.Units[i]
		if u.Failure == nil || u.Failure.Code != core.CodeConverterUnavailable {
			t.Errorf("unit %d = %+v, want CONVERTER_UNAVAILABLE", i, u)
		}
	}
	// Diagnostics never touch the converter.
	if res.Units[1].Comment != "-- COMMIT" {
		t.Errorf("unit 1 = %+v", res.Units[1])
	}
	if res.Stats.Failed != 2 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

// shortConverter returns one output for two inputs: a malformed response
// that must count as a failed attempt.
type shortConverter struct {
	calls atomic.Int64
}

func (s *shortConverter) Convert(_ context.Context, req converter.Request) (*converter.Result, error) {
	s.calls.Add(1)
	return &converter.Result{Statements: req.Statements[:len(req.Statements)-1]}, nil
}

func TestRun_MalformedResponseRetriesThenFails(t *testing.T) {
	conv := &shortConverter{}
	p := newPipeline(t, testConfig(), conv)
	res := run(t, p, "SELECT a FROM t;\nSELECT b FROM t;\n")

	if got := conv.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want bounded retries of the identical request", got)
	}
	for i, u := range res.Units {
		if u.Failure == nil || u.Failure.Code != core.CodeConverterUnavailable {
			t.Errorf("unit %d = %+v", i, u)
		}
	}
}

func TestRun_ConverterOutputValidated(t *testing.T) {
	// The converter hands back SQL that still contains a construct the rule
	// table must refuse; the validation pass catches it.
	mock := &converter.Mock{Transform: func(string) string {
		return "SELECT ord_seq.NEXTVAL FROM t"
	}}
	p := newPipeline(t, testConfig(), mock)
	res := run(t, p, "SELECT a FROM t;\n")

	u := res.Units[0]
	if u.Failure == nil || u.Failure.Code != core.CodeUnsupportedSequence {
		t.Errorf("unit = %+v, want post-conversion refusal", u)
	}
}

// slowFirstChunk delays the first chunk so later chunks finish first;
// emission order must not change.
type slowFirstChunk struct{}

func (slowFirstChunk) Convert(ctx context.Context, req converter.Request) (*converter.Result, error) {
	if req.ChunkID == "c1" {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]string, len(req.Statements))
	for i, s := range req.Statements {
		out[i] = s
	}
	return &converter.Result{Statements: out}, nil
}

func TestRun_OutOfOrderCompletionEmitsInOrder(t *testing.T) {
	cfg := testConfig()
	cfg.TokenBudget = 30 // force several chunks
	cfg.SafetyMarginPct = 0
	p := newPipeline(t, cfg, slowFirstChunk{})

	var b strings.Builder
	for i := range 8 {
		fmt.Fprintf(&b, "SELECT col_%d FROM table_%d WHERE id = %d;\n", i, i, i)
	}
	res := run(t, p, b.String())

	if res.Stats.Chunks < 2 {
		t.Fatalf("chunks = %d, need several for the ordering check", res.Stats.Chunks)
	}
	for i, u := range res.Units {
		want := fmt.Sprintf("SELECT col_%d FROM table_%d WHERE id = %d", i, i, i)
		if u.SQL != want {
			t.Fatalf("unit %d = %q, want %q", i, u.SQL, want)
		}
	}
}

type chunkRecorder struct {
	converter.Mock
}

func TestRun_CTEDependencySharesChunk(t *testing.T) {
	cfg := testConfig()
	cfg.TokenBudget = 30 // small enough that the span exceeds it
	cfg.SafetyMarginPct = 0
	rec := &chunkRecorder{}
	p := newPipeline(t, cfg, rec)

	content := "WITH daily AS (SELECT id, amt FROM src WHERE dt = 1) SELECT COUNT(*) FROM daily;\n" +
		"SELECT id FROM daily WHERE amt > 100;\n" +
		"SELECT other FROM unrelated_a;\n" +
		"SELECT other FROM unrelated_b;\n"
	res := run(t, p, content)

	for i, u := range res.Units {
		if u.Failure != nil {
			t.Fatalf("unit %d failed: %+v", i, u.Failure)
		}
	}
	// The definer and its consumer travel in one request.
	var together bool
	for _, call := range rec.Calls() {
		hasDef, hasUse := false, false
		for _, s := range call.Statements {
			if strings.Contains(s, "WITH daily") {
				hasDef = true
			}
			if strings.Contains(s, "FROM daily WHERE amt") {
				hasUse = true
			}
		}
		if hasDef != hasUse {
			t.Fatalf("chunk %s split the CTE dependency: %v", call.ChunkID, call.Statements)
		}
		if hasDef && hasUse {
			together = true
		}
	}
	if !together {
		t.Fatal("dependency pair never appeared in a chunk")
	}
}

func TestRun_DeterministicOutput(t *testing.T) {
	content := "SELECT NVL(a, 0) FROM t;\nCOMMIT;\nSELECT TO_CHAR(d, 'YYYYMMDD') FROM u;\nSELECT seq.NEXTVAL FROM v;\n"
	p := newPipeline(t, testConfig(), converter.NewPassthrough())

	first := assemble.Render("in.sql", run(t, p, content).Units)
	for range 5 {
		again := assemble.Render("in.sql", run(t, p, content).Units)
		if again != first {
			t.Fatalf("output changed between identical runs:\n%s\n----\n%s", first, again)
		}
	}
}

func TestRun_EmptyFile(t *testing.T) {
	p := newPipeline(t, testConfig(), converter.NewPassthrough())
	res := run(t, p, "")
	if len(res.Units) != 0 {
		t.Errorf("units = %+v", res.Units)
	}
}

func TestRun_InvalidEncoding(t *testing.T) {
	p := newPipeline(t, testConfig(), converter.NewPassthrough())
	if _, err := p.Run(context.Background(), "bad.sql", []byte{0xff, 0xfe}); err == nil {
		t.Fatal("expected an error for invalid encoding")
	}
}
