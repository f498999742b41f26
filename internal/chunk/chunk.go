// Package chunk groups ordered statements into converter-sized chunks.
// Size limits are a soft target; dependency integrity is a hard constraint:
// a statement is never separated from the statements that define the CTE
// names it references, even when keeping them together exceeds the budget.
package chunk

import (
	"fmt"

	"github.com/helios-labs/helios/internal/core"
	"github.com/helios-labs/helios/internal/dag"
)

// bytesPerToken is the estimation divisor: tokens ~= ceil(utf8 bytes / 4).
const bytesPerToken = 4

// Config holds the chunker's size policy.
type Config struct {
	// TokenBudget is the nominal maximum estimated tokens per chunk.
	TokenBudget int
	// SafetyMarginPct reserves headroom: the effective budget is
	// TokenBudget * (1 - SafetyMarginPct).
	SafetyMarginPct float64
}

// EstimateTokens estimates the token size of a piece of SQL text.
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + bytesPerToken - 1) / bytesPerToken
}

// Pack partitions the statement sequence into chunks. Every statement lands
// in exactly one chunk, order is preserved, and no chunk boundary cuts a
// CTE dependency edge. A single statement larger than the budget becomes
// its own oversized chunk; statements are never split.
func Pack(stmts []core.Statement, g *dag.Graph, cfg Config) ([]core.Chunk, error) {
	if len(stmts) == 0 {
		return nil, nil
	}
	if cfg.TokenBudget <= 0 {
		return nil, fmt.Errorf("chunk: token budget must be > 0, got %d", cfg.TokenBudget)
	}
	if cfg.SafetyMarginPct < 0 || cfg.SafetyMarginPct >= 1 {
		return nil, fmt.Errorf("chunk: safety margin must be in [0,1), got %g", cfg.SafetyMarginPct)
	}
	if err := g.VerifyBackward(); err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}

	budget := int(float64(cfg.TokenBudget) * (1 - cfg.SafetyMarginPct))
	if budget < 1 {
		budget = 1
	}

	atoms := atomize(stmts, g)

	var chunks []core.Chunk
	var cur []core.Statement
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, core.Chunk{
			ID:            fmt.Sprintf("c%d", len(chunks)+1),
			Statements:    cur,
			TokenEstimate: curTokens,
			Oversized:     curTokens > budget,
		})
		cur = nil
		curTokens = 0
	}

	for _, atom := range atoms {
		tokens := 0
		for _, st := range atom {
			tokens += EstimateTokens(st.Text)
		}
		if curTokens+tokens > budget {
			flush()
		}
		cur = append(cur, atom...)
		curTokens += tokens
		// An atom that alone exceeds the budget stays whole: close it out
		// immediately as an oversized chunk.
		if curTokens > budget {
			flush()
		}
	}
	flush()

	if err := verify(stmts, chunks, g); err != nil {
		return nil, err
	}
	return chunks, nil
}

// atomize groups statements into maximal runs that must not be separated.
// For every dependency edge (definer d, consumer c) the whole contiguous
// span [d, c] must share a chunk, so a boundary after position i is legal
// only when no edge spans it.
func atomize(stmts []core.Statement, g *dag.Graph) [][]core.Statement {
	// reach[i] = furthest sequence position that must stay with position i.
	pos := make(map[int]int, len(stmts)) // statement index -> sequence position
	for i, st := range stmts {
		pos[st.Index] = i
	}

	reach := make([]int, len(stmts))
	for i := range reach {
		reach[i] = i
	}
	for i, st := range stmts {
		for _, c := range g.Consumers(st.Index) {
			if p, ok := pos[c]; ok && p > reach[i] {
				reach[i] = p
			}
		}
	}

	var atoms [][]core.Statement
	start := 0
	maxReach := 0
	for i := range stmts {
		if reach[i] > maxReach {
			maxReach = reach[i]
		}
		if i >= maxReach {
			atoms = append(atoms, stmts[start:i+1])
			start = i + 1
		}
	}
	if start < len(stmts) {
		atoms = append(atoms, stmts[start:])
	}
	return atoms
}

// verify re-checks the invariants after packing: the chunks partition the
// statements exactly once in order, and no dependency crosses a chunk
// boundary. A violation here is a chunker defect and aborts the run.
func verify(stmts []core.Statement, chunks []core.Chunk, g *dag.Graph) error {
	assign := make(map[int]int, len(stmts))
	seq := 0
	for ci, ch := range chunks {
		for _, st := range ch.Statements {
			if seq >= len(stmts) || stmts[seq].Index != st.Index {
				return fmt.Errorf("chunk: statement sequence corrupted at position %d", seq)
			}
			assign[st.Index] = ci
			seq++
		}
	}
	if seq != len(stmts) {
		return fmt.Errorf("chunk: packed %d of %d statements", seq, len(stmts))
	}
	if err := g.VerifyContainment(assign); err != nil {
		return fmt.Errorf("chunk: %w", err)
	}
	return nil
}
