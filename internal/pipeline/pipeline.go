// Package pipeline orchestrates a conversion run: extract blocks, split
// statements, chunk along the CTE dependency graph, convert chunks in
// parallel, validate converter output against the rule table, and emit
// one output unit per input unit in original order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/helios-labs/helios/internal/assemble"
	"github.com/helios-labs/helios/internal/chunk"
	"github.com/helios-labs/helios/internal/config"
	"github.com/helios-labs/helios/internal/converter"
	"github.com/helios-labs/helios/internal/core"
	"github.com/helios-labs/helios/internal/dag"
	"github.com/helios-labs/helios/internal/extract"
	"github.com/helios-labs/helios/internal/rules"
	"github.com/helios-labs/helios/internal/split"
)

// Options bundles the collaborators of a run.
type Options struct {
	Config    *config.Config
	Engine    *rules.Engine
	Converter converter.Converter
	Logger    *slog.Logger
}

// Stats summarizes one file's run for reporting.
type Stats struct {
	Blocks     int
	Statements int
	Chunks     int
	Oversized  int
	Converted  int
	Failed     int
	Comments   int
}

// FileResult is the outcome of converting one input file.
type FileResult struct {
	Source string
	Units  []core.OutputUnit
	Stats  Stats
}

// Pipeline converts files. Safe for sequential reuse across files; each
// Run is independent.
type Pipeline struct {
	cfg    *config.Config
	engine *rules.Engine
	conv   converter.Converter
	logger *slog.Logger
}

// New creates a pipeline from options. A nil logger discards output.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		cfg:    opts.Config,
		engine: opts.Engine,
		conv:   opts.Converter,
		logger: logger,
	}
}

// Run converts one file's content and returns the ordered output units.
// Content-level problems become failure markers inside the result; an
// error return means the run itself could not proceed.
func (p *Pipeline) Run(ctx context.Context, file string, content []byte) (*FileResult, error) {
	logger := p.logger.With("run_id", uuid.New().String(), "file", file)
	start := time.Now()

	blocks, err := extract.Extract(file, content)
	if err != nil {
		return nil, fmt.Errorf("failed to extract blocks: %w", err)
	}

	units, pending := p.plan(file, blocks)
	logger.Debug("planned run",
		"blocks", len(blocks), "units", len(units), "convertible", len(pending))

	graph := dag.Build(pending)
	chunks, err := chunk.Pack(pending, graph, chunk.Config{
		TokenBudget:     p.cfg.TokenBudget,
		SafetyMarginPct: p.cfg.SafetyMarginPct,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to chunk statements: %w", err)
	}

	// Chunks convert in parallel and complete in any order; each worker
	// writes only its own statements' unit slots, and the slots are
	// emitted in slice order afterwards.
	eg, egctx := errgroup.WithContext(ctx)
	workers := p.cfg.Converter.Workers
	if workers < 1 {
		workers = 1
	}
	eg.SetLimit(workers)
	for _, ch := range chunks {
		eg.Go(func() error {
			return p.convertChunk(egctx, logger, ch, units)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// The expected unit count is re-derived from the blocks themselves so
	// a slot dropped during planning or conversion cannot self-verify.
	want := 0
	for _, b := range blocks {
		if b.Kind != core.BlockSQL {
			want++
			continue
		}
		want += len(split.Split(file, b))
	}
	if err := assemble.VerifyCoverage(units, want); err != nil {
		return nil, err
	}

	res := &FileResult{Source: file, Units: units, Stats: tally(blocks, chunks, units)}
	logger.Info("conversion finished",
		"statements", res.Stats.Statements,
		"chunks", res.Stats.Chunks,
		"converted", res.Stats.Converted,
		"failed", res.Stats.Failed,
		"duration", time.Since(start))
	return res, nil
}

// plan walks the blocks in order, allocating one output unit per input
// unit and collecting the statements that go to the converter. Non-SQL
// blocks fail immediately; diagnostic statements become inert comments.
func (p *Pipeline) plan(file string, blocks []core.Block) ([]core.OutputUnit, []core.Statement) {
	var units []core.OutputUnit
	var pending []core.Statement

	for bi, b := range blocks {
		loc := core.Location{File: file, Line: b.StartLine}
		switch b.Kind {
		case core.BlockUnsupportedMacro:
			units = append(units, core.OutputUnit{
				Index:    len(units),
				Location: loc,
				Failure: &core.FailureMarker{
					Code:     core.CodeUnsupportedMacro,
					Reason:   "substitution variable or DEFINE directive cannot be resolved statically",
					Location: loc,
					ChunkID:  "none",
				},
			})
		case core.BlockUnknownDelimiter:
			units = append(units, core.OutputUnit{
				Index:    len(units),
				Location: loc,
				Failure: &core.FailureMarker{
					Code:     core.CodeUnknownDelimiter,
					Reason:   "unrecognized non-SQL wrapper syntax",
					Location: loc,
					ChunkID:  "none",
				},
			})
		default:
			for _, st := range split.Split(file, b) {
				st.Index = len(units)
				st.Block = bi
				if st.Diagnostic {
					units = append(units, core.OutputUnit{
						Index:    st.Index,
						Location: st.Location,
						Comment:  assemble.CommentOut(st.Text),
					})
					continue
				}
				units = append(units, core.OutputUnit{Index: st.Index, Location: st.Location})
				pending = append(pending, st)
			}
		}
	}
	return units, pending
}

// convertChunk runs the rule table over the chunk's statements, sends the
// survivors to the converter with bounded retries, and validates the
// converter's output against the rule table again. Every statement ends
// with either converted SQL or a failure marker in its unit slot.
func (p *Pipeline) convertChunk(ctx context.Context, logger *slog.Logger, ch core.Chunk, units []core.OutputUnit) error {
	logger = logger.With("chunk", ch.ID)

	var send []core.Statement
	var texts []string
	for _, st := range ch.Statements {
		res := p.engine.Apply(st)
		if !res.OK() {
			logger.Debug("statement refused",
				"statement", st.Index, "code", res.Unsupported.Code)
			units[st.Index].Failure = &core.FailureMarker{
				Code:     res.Unsupported.Code,
				Reason:   res.Unsupported.Reason,
				Location: st.Location,
				ChunkID:  ch.ID,
			}
			continue
		}
		send = append(send, st)
		texts = append(texts, res.Rewritten)
	}
	if len(send) == 0 {
		return nil
	}

	req := converter.Request{
		ChunkID:     ch.ID,
		Statements:  texts,
		TokenBudget: p.cfg.TokenBudget,
	}
	res, err := p.convertWithRetry(ctx, logger, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("converter unavailable", "error", err)
		for _, st := range send {
			units[st.Index].Failure = &core.FailureMarker{
				Code:     core.CodeConverterUnavailable,
				Reason:   "converter failed after retries",
				Location: st.Location,
				ChunkID:  ch.ID,
			}
		}
		return nil
	}

	for i, st := range send {
		check := p.engine.Apply(core.Statement{
			Index:    st.Index,
			Text:     res.Statements[i],
			Location: st.Location,
			Type:     st.Type,
		})
		if !check.OK() {
			logger.Debug("converter output rejected",
				"statement", st.Index, "code", check.Unsupported.Code)
			units[st.Index].Failure = &core.FailureMarker{
				Code:     check.Unsupported.Code,
				Reason:   check.Unsupported.Reason,
				Location: st.Location,
				ChunkID:  ch.ID,
			}
			continue
		}
		units[st.Index].SQL = check.Rewritten
	}
	return nil
}

// convertWithRetry re-sends the identical request on failure, a bounded
// number of times with a constant delay. Conversion is idempotent so a
// duplicate send is harmless. A malformed response counts as a failed
// attempt.
func (p *Pipeline) convertWithRetry(ctx context.Context, logger *slog.Logger, req converter.Request) (*converter.Result, error) {
	backoffDelay := p.cfg.Converter.Backoff()
	if backoffDelay <= 0 {
		backoffDelay = time.Millisecond
	}
	b := retry.WithMaxRetries(uint64(p.cfg.Converter.MaxRetries), retry.NewConstant(backoffDelay))

	var res *converter.Result
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		r, err := p.conv.Convert(ctx, req)
		if err != nil {
			logger.Debug("converter attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		if r == nil || len(r.Statements) != len(req.Statements) {
			got := 0
			if r != nil {
				got = len(r.Statements)
			}
			err := fmt.Errorf("converter returned %d statements for %d inputs", got, len(req.Statements))
			logger.Debug("converter response malformed", "error", err)
			return retry.RetryableError(err)
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func tally(blocks []core.Block, chunks []core.Chunk, units []core.OutputUnit) Stats {
	s := Stats{Blocks: len(blocks), Chunks: len(chunks)}
	for _, ch := range chunks {
		s.Statements += len(ch.Statements)
		if ch.Oversized {
			s.Oversized++
		}
	}
	for _, u := range units {
		switch {
		case u.Failure != nil:
			s.Failed++
		case u.Comment != "":
			s.Comments++
			s.Statements++
		default:
			s.Converted++
		}
	}
	return s
}
