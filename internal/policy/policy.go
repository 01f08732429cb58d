// Package policy decides whether a face comparison is accepted, using a CEL expression.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// DefaultExpression accepts a metric match whose confidence clears the configured floor.
const DefaultExpression = "is_match && confidence >= min_confidence"

// Input holds the variables visible to an acceptance expression.
type Input struct {
	IsMatch       bool
	Confidence    float64 // percent
	Distance      float64
	MinConfidence float64 // percent
}

// Policy evaluates a compiled acceptance expression. Safe for concurrent use.
type Policy struct {
	mu         sync.RWMutex
	env        *cel.Env
	program    cel.Program
	expression string
}

func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("is_match", cel.BoolType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("min_confidence", cel.DoubleType),
		cel.Variable("distance", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// New compiles expression. An empty expression selects DefaultExpression.
func New(expression string) (*Policy, error) {
	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	p := &Policy{env: env}
	if err := p.Reload(expression); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate reports whether expression would compile. An empty expression is valid.
func Validate(expression string) error {
	if expression == "" {
		return nil
	}
	env, err := newEnv()
	if err != nil {
		return err
	}
	_, err = compile(env, expression)
	return err
}

// Reload replaces the active expression.
func (p *Policy) Reload(expression string) error {
	if expression == "" {
		expression = DefaultExpression
	}
	prg, err := compile(p.env, expression)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.program = prg
	p.expression = expression
	p.mu.Unlock()
	return nil
}

// Expression returns the active expression source.
func (p *Policy) Expression() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.expression
}

// Accept evaluates the active expression. Evaluation errors reject the match.
func (p *Policy) Accept(in Input) (bool, error) {
	p.mu.RLock()
	prg := p.program
	p.mu.RUnlock()

	out, _, err := prg.Eval(map[string]any{
		"is_match":       in.IsMatch,
		"confidence":     in.Confidence,
		"min_confidence": in.MinConfidence,
		"distance":       in.Distance,
	})
	if err != nil {
		return false, fmt.Errorf("acceptance policy evaluation failed: %w", err)
	}

	accepted, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("acceptance policy returned %s, want bool", out.Type())
	}
	return bool(accepted), nil
}

func compile(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile acceptance policy: %v", domain.ErrValidation, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: acceptance policy must return bool, got %s", domain.ErrValidation, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return prg, nil
}
