package engine

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// Predicate decides which processed datapoints are kept. It wraps an
// expression over datapoint field names ("WakeLatency < 10000"). An
// exclude-predicate is the logical negation of the same expression used as
// an include-predicate.
type Predicate struct {
	src    string
	expr   *govaluate.EvaluableExpression
	negate bool
}

// NewInclude compiles an include-predicate: datapoints matching the
// expression are kept.
func NewInclude(expr string) (*Predicate, error) {
	return compile(expr, false)
}

// NewExclude compiles an exclude-predicate: datapoints matching the
// expression are dropped.
func NewExclude(expr string) (*Predicate, error) {
	return compile(expr, true)
}

func compile(expr string, negate bool) (*Predicate, error) {
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid predicate %q: %w", expr, err)
	}
	return &Predicate{src: expr, expr: e, negate: negate}, nil
}

// String returns the original expression source.
func (p *Predicate) String() string {
	if p.negate {
		return "exclude: " + p.src
	}
	return "include: " + p.src
}

// Keep evaluates the predicate against one datapoint. A nil predicate
// keeps everything.
func (p *Predicate) Keep(dp Processed) (bool, error) {
	if p == nil {
		return true, nil
	}
	res, err := p.expr.Evaluate(dp.Fields())
	if err != nil {
		return false, fmt.Errorf("evaluating predicate %q: %w", p.src, err)
	}
	match, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("predicate %q is not boolean (got %T)", p.src, res)
	}
	if p.negate {
		return !match, nil
	}
	return match, nil
}
