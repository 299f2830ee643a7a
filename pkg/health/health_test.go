package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ok(ctx context.Context) error { return nil }

func failing(ctx context.Context) error { return errors.New("connection refused") }

func TestCheckerRegistry(t *testing.T) {
	tests := []struct {
		name     string
		required []*CheckFunc
		optional []*CheckFunc
		want     Status
	}{
		{name: "no checks", want: StatusHealthy},
		{name: "all healthy", required: []*CheckFunc{NewCheckFunc("redis", ok), NewCheckFunc("mongodb", ok)}, want: StatusHealthy},
		{name: "required failing", required: []*CheckFunc{NewCheckFunc("redis", ok), NewCheckFunc("mongodb", failing)}, want: StatusUnhealthy},
		{name: "optional failing", required: []*CheckFunc{NewCheckFunc("redis", ok)}, optional: []*CheckFunc{NewCheckFunc("vendor", failing)}, want: StatusDegraded},
		{
			name:     "required wins over optional",
			required: []*CheckFunc{NewCheckFunc("redis", failing)},
			optional: []*CheckFunc{NewCheckFunc("vendor", failing)},
			want:     StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.required {
				r.Register(c)
			}
			for _, c := range tt.optional {
				r.RegisterOptional(c)
			}

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.required)+len(tt.optional))
		})
	}
}

func TestCheckResultCarriesError(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewCheckFunc("mongodb", failing))

	h := r.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Checks["mongodb"].Status)
	assert.Equal(t, "connection refused", h.Checks["mongodb"].Message)
}
