package segment

import (
	"context"
	"fmt"
	"time"

	"crmflow/pkg/cel"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/models"
)

// Evaluator resolves a rule to the customers it matches.
type Evaluator interface {
	// Audience returns matching customers ordered by id; limit 0 means all.
	Audience(ctx context.Context, rule Rule, limit int64) ([]models.Customer, error)
	Count(ctx context.Context, rule Rule) (int64, error)
}

// Validator checks rules by compiling their CEL form.
type Validator struct {
	cel *cel.Evaluator
	now func() time.Time
}

func NewValidator() (*Validator, error) {
	eval, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &Validator{cel: eval, now: time.Now}, nil
}

func (v *Validator) Validate(rule Rule) error {
	_, err := v.compile(rule)
	return err
}

func (v *Validator) compile(rule Rule) (*cel.Filter, error) {
	expr, err := ToExpression(rule, v.now())
	if err != nil {
		return nil, err
	}
	f, err := v.cel.CompileFilter(expr)
	if err != nil {
		return nil, apperrors.ErrValidation.WithCause(err).WithDetail("expression", expr)
	}
	return f, nil
}

// CustomerFinder is the query side of the customer store.
type CustomerFinder interface {
	Find(ctx context.Context, filter interface{}, limit int64) ([]models.Customer, error)
	Count(ctx context.Context, filter interface{}) (int64, error)
}

// MongoEvaluator pushes the rule down to the store as a query filter.
type MongoEvaluator struct {
	validator *Validator
	customers CustomerFinder
	now       func() time.Time
}

var _ Evaluator = (*MongoEvaluator)(nil)

func NewMongoEvaluator(customers CustomerFinder, validator *Validator) *MongoEvaluator {
	return &MongoEvaluator{validator: validator, customers: customers, now: time.Now}
}

func (e *MongoEvaluator) Audience(ctx context.Context, rule Rule, limit int64) ([]models.Customer, error) {
	if err := e.validator.Validate(rule); err != nil {
		return nil, err
	}
	filter, err := ToFilter(rule, e.now())
	if err != nil {
		return nil, err
	}
	customers, err := e.customers.Find(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate segment: %w", err)
	}
	return customers, nil
}

func (e *MongoEvaluator) Count(ctx context.Context, rule Rule) (int64, error) {
	if err := e.validator.Validate(rule); err != nil {
		return 0, err
	}
	filter, err := ToFilter(rule, e.now())
	if err != nil {
		return 0, err
	}
	n, err := e.customers.Count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count segment: %w", err)
	}
	return n, nil
}

// CustomerLister returns every customer ordered by id.
type CustomerLister interface {
	All() []models.Customer
}

// MemoryEvaluator matches rules with CEL over an in-memory customer list.
type MemoryEvaluator struct {
	validator *Validator
	customers CustomerLister
}

var _ Evaluator = (*MemoryEvaluator)(nil)

func NewMemoryEvaluator(customers CustomerLister, validator *Validator) *MemoryEvaluator {
	return &MemoryEvaluator{validator: validator, customers: customers}
}

func (e *MemoryEvaluator) Audience(ctx context.Context, rule Rule, limit int64) ([]models.Customer, error) {
	f, err := e.validator.compile(rule)
	if err != nil {
		return nil, err
	}

	var out []models.Customer
	for _, c := range e.customers.All() {
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
		ok, err := f.Matches(ctx, c)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *MemoryEvaluator) Count(ctx context.Context, rule Rule) (int64, error) {
	matched, err := e.Audience(ctx, rule, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}
