package port

import (
	"context"
	"errors"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
)

// ErrObjectNotFound is returned by ObjectStore.Get for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ReadError classifies a failed store read. A missing object is fatal, any
// other failure is transient.
func ReadError(op string, err error) error {
	if errors.Is(err, ErrObjectNotFound) {
		return apperror.Fatal(op, err)
	}
	return apperror.Transient(op, err)
}

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// MediaSource exposes a stored video to the external media tools.
type MediaSource interface {
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}
