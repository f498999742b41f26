// Package converter defines the external conversion boundary. The
// converter is an untrusted collaborator: it receives a chunk of validated,
// rule-rewritten Oracle SQL and returns Spark SQL per statement, or an
// error. The pipeline never lets converter quality affect its own
// guarantees; any error or malformed response degrades the chunk's
// statements to CONVERTER_UNAVAILABLE markers after bounded retries.
package converter

import (
	"context"
	"fmt"
)

// Request is one chunk handed to the converter.
type Request struct {
	// ChunkID identifies the chunk for logging.
	ChunkID string
	// Statements are the rule-rewritten statement texts, in order.
	Statements []string
	// TokenBudget is the estimated size limit the chunk was packed under.
	TokenBudget int
}

// Result carries one converted text per input statement, same order.
type Result struct {
	Statements []string
}

// Converter converts one chunk. Implementations must be safe for
// concurrent use; chunks are converted in parallel.
type Converter interface {
	Convert(ctx context.Context, req Request) (*Result, error)
}

// validateShape enforces the per-statement contract: a result must carry
// exactly one output per input statement.
func validateShape(req Request, res *Result) error {
	if res == nil {
		return fmt.Errorf("converter returned no result")
	}
	if len(res.Statements) != len(req.Statements) {
		return fmt.Errorf("converter returned %d statements for %d inputs",
			len(res.Statements), len(req.Statements))
	}
	return nil
}
