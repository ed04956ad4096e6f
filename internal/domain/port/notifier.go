package port

import (
	"context"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
)

// FailureNotice describes a job whose step failed for good.
type FailureNotice struct {
	JobID       string
	UserEmail   string
	Bucket      string
	Key         string
	State       entity.State
	Attempt     int
	MaxAttempts int
	Reason      string
}

type FailureNotifier interface {
	NotifyFailure(ctx context.Context, notice FailureNotice) error
}
