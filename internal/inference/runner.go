// Package inference drives the classification oracle over an ordered frame
// list within a fixed execution budget and a requests-per-second ceiling.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/metrics"
	"github.com/fiapx/fiapx-analysis-service/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// FramesPerSecondPerUnit is the oracle throughput granted by one provisioned
// capacity unit.
const FramesPerSecondPerUnit = 5

// Throughput returns the frames-per-second budget for capacityUnits.
func Throughput(capacityUnits int) int {
	if capacityUnits < 1 {
		capacityUnits = 1
	}
	return capacityUnits * FramesPerSecondPerUnit
}

type Config struct {
	// NearDeadline stops the loop once less than this is left of the
	// invocation budget.
	NearDeadline time.Duration
	// NearExpiry triggers a lease renewal when the lease ends sooner than this.
	NearExpiry     time.Duration
	LeaseExtension time.Duration
	MinConfidence  float32
	Classify       retry.Policy
	Store          retry.Policy
	// Pace spreads oracle calls so no more than Throughput start per second.
	Pace bool
}

func DefaultConfig() Config {
	return Config{
		NearDeadline:   30 * time.Second,
		NearExpiry:     30 * time.Second,
		LeaseExtension: 120 * time.Second,
		MinConfidence:  50,
		Classify:       retry.Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		Store:          retry.Policy{Attempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second},
		Pace:           true,
	}
}

// Request describes one invocation over a unit's frame list. Images are read
// from <ImagePrefix>/<frameNumber>.jpg and detections written to
// <OutputPrefix>/<frameNumber>.json.
type Request struct {
	UnitID       string
	ModelRef     string
	Frames       []entity.Frame
	ImageBucket  string
	ImagePrefix  string
	OutputBucket string
	OutputPrefix string
	Throughput   int
	LeaseExpiry  time.Time
	Deadline     time.Time
	Cursor       int
}

func (r Request) validate() error {
	switch {
	case r.UnitID == "":
		return apperror.Validationf("inference: unit id is required")
	case r.ModelRef == "":
		return apperror.Validationf("inference: model reference is required")
	case r.Throughput < 1:
		return apperror.Validationf("inference: throughput must be positive, got %d", r.Throughput)
	case r.Deadline.IsZero():
		return apperror.Validationf("inference: execution deadline is required")
	case r.Cursor < 0 || r.Cursor > len(r.Frames):
		return apperror.Validationf("inference: cursor %d outside [0,%d]", r.Cursor, len(r.Frames))
	}
	return nil
}

type Result struct {
	Status      entity.RunStatus `json:"status"`
	Cursor      int              `json:"cursor"`
	LeaseExpiry time.Time        `json:"leaseExpiry"`
	// Classified counts frames finished by this invocation.
	Classified int `json:"classified"`
}

type Runner struct {
	classifier port.Classifier
	store      port.ObjectStore
	leases     port.LeaseStore
	cursors    port.CursorStore
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewRunner(
	classifier port.Classifier,
	store port.ObjectStore,
	leases port.LeaseStore,
	cursors port.CursorStore,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		classifier: classifier,
		store:      store,
		leases:     leases,
		cursors:    cursors,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the time source used for deadline and lease checks.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run classifies frames from the cursor on, one throughput-sized batch at a
// time, until the list is done or the deadline is near. Every batch is
// persisted before the cursor moves past it. On error the stored cursor still
// reflects the last persisted batch.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	cursor := req.Cursor
	stored, err := r.cursors.Get(ctx, req.UnitID)
	if err != nil {
		return nil, apperror.Transient("get cursor", err)
	}
	if stored > cursor && stored <= len(req.Frames) {
		cursor = stored
	}

	res := &Result{Cursor: cursor, LeaseExpiry: req.LeaseExpiry}
	remaining := req.Frames[cursor:]

	var limiter *rate.Limiter
	if r.cfg.Pace {
		limiter = rate.NewLimiter(rate.Limit(req.Throughput), req.Throughput)
	}

	for len(remaining) > 0 && req.Deadline.Sub(r.now()) > r.cfg.NearDeadline {
		if err := r.keepLeaseAlive(ctx, req.ModelRef, res); err != nil {
			return nil, err
		}

		n := min(req.Throughput, len(remaining))
		batch := remaining[:n]

		if limiter != nil {
			if err := limiter.WaitN(ctx, n); err != nil {
				return nil, fmt.Errorf("pace oracle calls: %w", err)
			}
		}

		detections, err := r.classifyBatch(ctx, req, batch)
		if err != nil {
			return nil, err
		}
		if err := r.persistBatch(ctx, req, detections); err != nil {
			return nil, err
		}

		remaining = remaining[n:]
		res.Cursor += n
		res.Classified += n
		metrics.FramesClassifiedTotal.Add(float64(n))

		if _, err := retry.Do(ctx, r.cfg.Store, "put cursor", func(ctx context.Context) (struct{}, error) {
			if err := r.cursors.Put(ctx, req.UnitID, res.Cursor); err != nil {
				return struct{}{}, apperror.Transient("put cursor", err)
			}
			return struct{}{}, nil
		}); err != nil {
			return nil, err
		}
	}

	res.Status = entity.RunStatusCompleted
	if len(remaining) > 0 {
		res.Status = entity.RunStatusProcessing
	}

	r.logger.Info("inference pass finished",
		zap.String("unit_id", req.UnitID),
		zap.String("run_status", string(res.Status)),
		zap.Int("cursor", res.Cursor),
		zap.Int("total", len(req.Frames)),
		zap.Int("classified", res.Classified),
	)
	return res, nil
}

// keepLeaseAlive pushes the model lease forward when it is about to end. A
// rejected write means another invocation already extended it further, which
// still keeps the model running, so the local expiry is advanced either way.
func (r *Runner) keepLeaseAlive(ctx context.Context, modelRef string, res *Result) error {
	now := r.now()
	if res.LeaseExpiry.Sub(now) >= r.cfg.NearExpiry {
		return nil
	}

	expiry := now.Add(r.cfg.LeaseExtension)
	written, err := retry.Do(ctx, r.cfg.Store, "renew lease", func(ctx context.Context) (bool, error) {
		ok, err := r.leases.Renew(ctx, modelRef, expiry)
		if err != nil {
			return false, apperror.Transient("renew lease", err)
		}
		return ok, nil
	})
	if err != nil {
		metrics.LeaseRenewalsTotal.WithLabelValues("error").Inc()
		return err
	}

	result := "extended"
	if !written {
		result = "superseded"
	}
	metrics.LeaseRenewalsTotal.WithLabelValues(result).Inc()
	r.logger.Debug("model lease renewed",
		zap.String("model", modelRef),
		zap.Time("expiry", expiry),
		zap.String("result", result),
	)

	res.LeaseExpiry = expiry
	return nil
}

func (r *Runner) classifyBatch(ctx context.Context, req Request, batch []entity.Frame) ([]entity.Detection, error) {
	detections := make([]entity.Detection, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range batch {
		g.Go(func() error {
			img := port.ImageRef{
				Bucket: req.ImageBucket,
				Key:    path.Join(req.ImagePrefix, fmt.Sprintf("%d.jpg", f.FrameNumber)),
			}
			labels, err := retry.Do(gctx, r.cfg.Classify, "classify", func(ctx context.Context) ([]entity.CustomLabel, error) {
				labels, err := r.classifier.Classify(ctx, img, req.ModelRef, r.cfg.MinConfidence)
				metrics.OracleCallsTotal.WithLabelValues(Outcome(err)).Inc()
				return labels, err
			})
			if err != nil {
				return fmt.Errorf("classify frame %d: %w", f.FrameNumber, err)
			}
			detections[i] = entity.NewDetection(f, labels)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return detections, nil
}

func (r *Runner) persistBatch(ctx context.Context, req Request, detections []entity.Detection) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range detections {
		g.Go(func() error {
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshal detection %d: %w", d.FrameNumber, err)
			}
			key := path.Join(req.OutputPrefix, fmt.Sprintf("%d.json", d.FrameNumber))
			_, err = retry.Do(gctx, r.cfg.Store, "put detection", func(ctx context.Context) (struct{}, error) {
				if err := r.store.Put(ctx, req.OutputBucket, key, data, "application/json"); err != nil {
					return struct{}{}, apperror.Transient("put detection", err)
				}
				return struct{}{}, nil
			})
			return err
		})
	}
	return g.Wait()
}

// Outcome labels one classification call for the oracle call counter.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case apperror.IsTransient(err):
		return "throttled"
	default:
		return "error"
	}
}
