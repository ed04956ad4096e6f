package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type ProcessStepUseCase struct {
	repo      port.JobRepository
	steps     *Registry
	publisher port.ResultPublisher
	dlq       port.DeadLetterSink
	notifier  port.FailureNotifier
	logger    *zap.Logger
	maxRetry  int
	budget    time.Duration
	now       func() time.Time
}

type ProcessStepConfig struct {
	MaxRetries int
	// InvocationTimeout is the execution budget of a single delivery.
	InvocationTimeout time.Duration
}

func NewProcessStepUseCase(
	repo port.JobRepository,
	steps *Registry,
	publisher port.ResultPublisher,
	dlq port.DeadLetterSink,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessStepConfig,
) *ProcessStepUseCase {
	return &ProcessStepUseCase{
		repo:      repo,
		steps:     steps,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		maxRetry:  cfg.MaxRetries,
		budget:    cfg.InvocationTimeout,
		now:       time.Now,
	}
}

// WithClock replaces the time source used to compute invocation deadlines.
func (uc *ProcessStepUseCase) WithClock(now func() time.Time) *ProcessStepUseCase {
	uc.now = now
	return uc
}

// sourceRef is the part of any payload that names the analysed object.
type sourceRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Execute handles one step delivery. A nil return acks the message; an error
// asks the consumer to requeue it.
func (uc *ProcessStepUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessStepUseCase.Execute")
	defer span.End()

	var msg entity.StepMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		uc.deadLetter(ctx, port.DeadLetter{Body: rawMsg, Reason: "unmarshal_error: " + err.Error()}, uc.logger)
		return nil
	}
	if msg.JobID == uuid.Nil || msg.State == "" {
		uc.logger.Error("message without job id or state", zap.ByteString("body", rawMsg))
		uc.deadLetter(ctx, port.DeadLetter{
			Body:   rawMsg,
			State:  msg.State,
			Reason: "invalid_message: job_id and state are required",
		}, uc.logger)
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.state", string(msg.State)),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("state", string(msg.State)))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if errors.Is(err, port.ErrJobNotFound) {
		var src sourceRef
		_ = json.Unmarshal(msg.Payload, &src)
		job = entity.NewJob(msg.UserID, src.Bucket, src.Key, uc.maxRetry)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	} else if err != nil {
		log.Error("failed to load job record", zap.Error(err))
		return fmt.Errorf("find job: %w", err)
	}

	if job.State == msg.State && !job.CanRetry() {
		log.Warn("step exhausted retries, sending to DLQ")
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded", log)
	}

	job.MarkProcessing(msg.State)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	step, ok := uc.steps.Lookup(msg.State)
	if !ok {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "unknown state: "+string(msg.State), log)
	}

	inv := entity.Invocation{JobID: job.ID, Deadline: uc.now().Add(uc.budget)}
	stepCtx, cancel := context.WithDeadline(ctx, inv.Deadline)
	defer cancel()

	out, err := step.Run(stepCtx, inv, msg.Payload)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("interrupted: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) || apperror.IsTransient(err) {
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, err.Error(), log)
		}
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, err.Error(), log)
	}

	if msg.State == entity.StateJobCompleted {
		job.MarkCompleted()
	} else {
		job.MarkStepSucceeded()
	}
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job after step", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	uc.publishResult(ctx, job, msg.State, out, log)
	return nil
}

func (uc *ProcessStepUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.StepMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg, log)
	}

	uc.publishResult(ctx, job, msg.State, nil, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *ProcessStepUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.StepMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	uc.deadLetter(ctx, port.DeadLetter{
		Body:   rawMsg,
		State:  msg.State,
		JobID:  job.ID.String(),
		Reason: errMsg,
	}, log)

	uc.publishResult(ctx, job, msg.State, nil, log)

	metrics.StepsProcessedTotal.WithLabelValues(string(msg.State), "dlq").Inc()

	notice := port.FailureNotice{
		JobID:       job.ID.String(),
		UserEmail:   msg.UserEmail,
		Bucket:      job.Bucket,
		Key:         job.VideoKey,
		State:       msg.State,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		Reason:      errMsg,
	}
	if err := uc.notifier.NotifyFailure(ctx, notice); err != nil {
		log.Warn("failure notification not sent", zap.Error(err))
	}

	return nil
}

func (uc *ProcessStepUseCase) publishResult(ctx context.Context, job *entity.Job, state entity.State, out *StepOutput, log *zap.Logger) {
	result := entity.StepResultMessage{
		JobID:        job.ID,
		UserID:       job.UserID,
		State:        state,
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
	}
	if out != nil {
		result.RunStatus = out.RunStatus
		if out.Output != nil {
			data, err := json.Marshal(out.Output)
			if err != nil {
				log.Error("failed to marshal step output", zap.Error(err))
			} else {
				result.Output = data
			}
		}
	}

	if err := uc.publisher.PublishResult(ctx, result); err != nil {
		log.Error("failed to publish step result", zap.Error(err))
	}
}

func (uc *ProcessStepUseCase) deadLetter(ctx context.Context, letter port.DeadLetter, log *zap.Logger) {
	if err := uc.dlq.DeadLetter(ctx, letter); err != nil {
		log.Error("failed to dead-letter step request", zap.String("reason", letter.Reason), zap.Error(err))
	}
}
