package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// StepHandler processes one step request. A returned error requeues the
// delivery after a backoff; nil acks it.
type StepHandler func(ctx context.Context, body []byte) error

const defaultMaxRequeueDelay = time.Minute

// ConsumerConfig names the topology. Step requests and step results are both
// routed on the exchange by their queue name.
type ConsumerConfig struct {
	URL         string
	Queue       string
	Exchange    string
	DLQ         string
	ResultQueue string
	Prefetch    int
	WorkerCount int
	// RequeueDelay is the wait before the first requeue of a failed step. It
	// doubles per attempt up to MaxRequeueDelay.
	RequeueDelay    time.Duration
	MaxRequeueDelay time.Duration
}

type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     ConsumerConfig
	handler StepHandler
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig, handler StepHandler, logger *zap.Logger) (*Consumer, error) {
	if cfg.MaxRequeueDelay <= 0 {
		cfg.MaxRequeueDelay = defaultMaxRequeueDelay
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Consumer{conn: conn, channel: ch, cfg: cfg, handler: handler, logger: logger}
	if err := c.declareTopology(); err != nil {
		c.Close()
		return nil, err
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		c.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return c, nil
}

func (c *Consumer) declareTopology() error {
	if err := c.channel.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	for _, q := range []string{c.cfg.Queue, c.cfg.DLQ, c.cfg.ResultQueue} {
		if _, err := c.channel.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	for _, q := range []string{c.cfg.Queue, c.cfg.ResultQueue} {
		if err := c.channel.QueueBind(q, q, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}
	return nil
}

// Start runs the worker pool until ctx is done, then waits for in-flight
// steps to return.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("starting step workers",
		zap.Int("workers", c.cfg.WorkerCount),
		zap.String("queue", c.cfg.Queue),
	)
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, deliveries)
	}

	<-ctx.Done()
	c.logger.Info("context cancelled, waiting for step workers")
	c.wg.Wait()
	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Info("delivery channel closed")
				return
			}
			c.handle(ctx, d, log)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, log *zap.Logger) {
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
	log = log.With(
		zap.String("state", headerCarrier(d.Headers).Get(HeaderState)),
		zap.String("job_id", headerCarrier(d.Headers).Get(HeaderJobID)),
	)

	err := c.handler(msgCtx, d.Body)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		return
	}

	attempt := deliveryAttempt(d)
	delay := c.requeueDelay(attempt)
	metrics.RetryTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
	log.Warn("step failed, requeueing",
		zap.Error(err),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
	// On shutdown the request goes back to the queue for the next worker.
	if err := d.Nack(false, true); err != nil {
		log.Warn("nack failed", zap.Error(err))
	}
}

// deliveryAttempt estimates how often a delivery has been tried. A plain
// requeue adds no header, so a redelivered message counts as a second try.
func deliveryAttempt(d amqp.Delivery) int {
	if deaths, ok := d.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		return len(deaths) + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

func (c *Consumer) requeueDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RequeueDelay
	b.MaxInterval = c.cfg.MaxRequeueDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
