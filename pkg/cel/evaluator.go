package cel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"crmflow/pkg/models"
)

// Evaluator compiles boolean expressions over a customer. The variables are
// id, name, email, totalSpend, visits, tags, lastPurchaseDate and
// hasPurchased (false when lastPurchaseDate is unset).
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("email", cel.StringType),
		cel.Variable("totalSpend", cel.DoubleType),
		cel.Variable("visits", cel.IntType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("lastPurchaseDate", cel.TimestampType),
		cel.Variable("hasPurchased", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// Filter is a compiled boolean expression.
type Filter struct {
	expression string
	program    cel.Program
}

func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{expression: expression, program: program}, nil
}

func (f *Filter) String() string {
	return f.expression
}

func (f *Filter) Matches(ctx context.Context, c models.Customer) (bool, error) {
	result, _, err := f.program.ContextEval(ctx, CustomerVars(c))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return matched, nil
}

// EvaluateFilter compiles and runs expression once.
func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, c models.Customer) (bool, error) {
	f, err := e.CompileFilter(expression)
	if err != nil {
		return false, err
	}
	return f.Matches(ctx, c)
}

func CustomerVars(c models.Customer) map[string]interface{} {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	lastPurchase := time.Unix(0, 0).UTC()
	if c.LastPurchaseDate != nil {
		lastPurchase = *c.LastPurchaseDate
	}

	return map[string]interface{}{
		"id":               c.ID,
		"name":             c.Name,
		"email":            c.Email,
		"totalSpend":       c.TotalSpend,
		"visits":           int64(c.Visits),
		"tags":             tags,
		"lastPurchaseDate": lastPurchase,
		"hasPurchased":     c.LastPurchaseDate != nil,
	}
}
