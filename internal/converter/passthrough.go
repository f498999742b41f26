package converter

import "context"

// Passthrough returns the rule-rewritten SQL unchanged. It backs the
// --no-llm mode, where the safe-rewrite pass is the whole conversion.
type Passthrough struct{}

// NewPassthrough creates a passthrough converter.
func NewPassthrough() *Passthrough { return &Passthrough{} }

// Convert echoes the request statements.
func (p *Passthrough) Convert(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]string, len(req.Statements))
	copy(out, req.Statements)
	return &Result{Statements: out}, nil
}

var _ Converter = (*Passthrough)(nil)
