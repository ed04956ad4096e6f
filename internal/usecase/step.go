package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StepOutput is what a step hands back to the orchestrator. RunStatus is set
// only by resumable steps.
type StepOutput struct {
	RunStatus entity.RunStatus
	Output    any
}

// Step runs one pipeline state for one invocation.
type Step interface {
	State() entity.State
	Run(ctx context.Context, inv entity.Invocation, payload json.RawMessage) (*StepOutput, error)
}

// Payload is a decoded step input that can check itself before any work runs.
type Payload interface {
	Validate() error
}

type typedStep[P Payload] struct {
	state entity.State
	run   func(ctx context.Context, inv entity.Invocation, p P) (*StepOutput, error)
}

// NewStep builds a Step that decodes and validates a P before calling run.
// Decoding and validation failures are validation errors.
func NewStep[P Payload](state entity.State, run func(ctx context.Context, inv entity.Invocation, p P) (*StepOutput, error)) Step {
	return &typedStep[P]{state: state, run: run}
}

func (s *typedStep[P]) State() entity.State { return s.state }

func (s *typedStep[P]) Run(ctx context.Context, inv entity.Invocation, raw json.RawMessage) (*StepOutput, error) {
	var p P
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, apperror.Validation(string(s.state)+": decode payload", err)
		}
	}
	if err := p.Validate(); err != nil {
		if !apperror.IsValidation(err) {
			err = apperror.Validation(string(s.state), err)
		}
		return nil, err
	}
	return s.run(ctx, inv, p)
}

// Middleware wraps a step with a cross-cutting concern.
type Middleware func(Step) Step

type stepFunc struct {
	state entity.State
	run   func(ctx context.Context, inv entity.Invocation, payload json.RawMessage) (*StepOutput, error)
}

func (s stepFunc) State() entity.State { return s.state }

func (s stepFunc) Run(ctx context.Context, inv entity.Invocation, payload json.RawMessage) (*StepOutput, error) {
	return s.run(ctx, inv, payload)
}

// Chain applies middlewares so that the first one is outermost.
func Chain(step Step, mws ...Middleware) Step {
	for i := len(mws) - 1; i >= 0; i-- {
		step = mws[i](step)
	}
	return step
}

func WithTracing(tracer trace.Tracer) Middleware {
	return func(next Step) Step {
		return stepFunc{state: next.State(), run: func(ctx context.Context, inv entity.Invocation, payload json.RawMessage) (*StepOutput, error) {
			ctx, span := tracer.Start(ctx, "step."+string(next.State()),
				trace.WithAttributes(
					attribute.String("job.id", inv.JobID.String()),
					attribute.String("step.state", string(next.State())),
				),
			)
			defer span.End()

			out, err := next.Run(ctx, inv, payload)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, apperror.KindOf(err).String())
				return nil, err
			}
			if out != nil && out.RunStatus != "" {
				span.SetAttributes(attribute.String("step.run_status", string(out.RunStatus)))
			}
			return out, nil
		}}
	}
}

func WithMetrics() Middleware {
	return func(next Step) Step {
		state := string(next.State())
		return stepFunc{state: next.State(), run: func(ctx context.Context, inv entity.Invocation, payload json.RawMessage) (*StepOutput, error) {
			start := time.Now()
			out, err := next.Run(ctx, inv, payload)
			metrics.StepDuration.WithLabelValues(state).Observe(time.Since(start).Seconds())

			status := "success"
			if err != nil {
				status = apperror.KindOf(err).String()
			} else if out != nil && out.RunStatus == entity.RunStatusProcessing {
				status = string(entity.RunStatusProcessing)
			}
			metrics.StepsProcessedTotal.WithLabelValues(state, status).Inc()
			return out, err
		}}
	}
}

func WithLogging(logger *zap.Logger) Middleware {
	return func(next Step) Step {
		return stepFunc{state: next.State(), run: func(ctx context.Context, inv entity.Invocation, payload json.RawMessage) (*StepOutput, error) {
			log := logger.With(zap.String("job_id", inv.JobID.String()), zap.String("state", string(next.State())))
			start := time.Now()

			out, err := next.Run(ctx, inv, payload)
			if err != nil {
				log.Warn("step failed",
					zap.String("kind", apperror.KindOf(err).String()),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err),
				)
				return nil, err
			}
			fields := []zap.Field{zap.Duration("elapsed", time.Since(start))}
			if out != nil && out.RunStatus != "" {
				fields = append(fields, zap.String("run_status", string(out.RunStatus)))
			}
			log.Info("step finished", fields...)
			return out, nil
		}}
	}
}

// Registry resolves a state name to its step.
type Registry struct {
	steps map[entity.State]Step
}

// NewRegistry registers steps wrapped in mws. A state registered twice is a
// programming error.
func NewRegistry(steps []Step, mws ...Middleware) (*Registry, error) {
	r := &Registry{steps: make(map[entity.State]Step, len(steps))}
	for _, s := range steps {
		if _, dup := r.steps[s.State()]; dup {
			return nil, fmt.Errorf("step %q registered twice", s.State())
		}
		r.steps[s.State()] = Chain(s, mws...)
	}
	return r, nil
}

func (r *Registry) Lookup(state entity.State) (Step, bool) {
	s, ok := r.steps[state]
	return s, ok
}
