package port

import (
	"context"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
)

// ResultPublisher reports the outcome of each step invocation back to the
// orchestrator.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result entity.StepResultMessage) error
}

// DeadLetter is a step request that will not be retried. State and JobID are
// empty when the request could not be decoded.
type DeadLetter struct {
	Body   []byte
	State  entity.State
	JobID  string
	Reason string
}

type DeadLetterSink interface {
	DeadLetter(ctx context.Context, letter DeadLetter) error
}
