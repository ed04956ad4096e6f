package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// Publisher sends JSON messages on one channel. Publishes are serialized.
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	if headers == nil {
		headers = amqp.Table{}
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
	})
}

// PublishStep enqueues a step request on the queue of that name.
func (p *Publisher) PublishStep(ctx context.Context, queue string, msg entity.StepMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal step request: %w", err)
	}
	return p.publish(ctx, p.exchange, queue, body, amqp.Table{
		HeaderState: string(msg.State),
		HeaderJobID: msg.JobID.String(),
	})
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}

type ResultPublisher struct {
	pub        *Publisher
	routingKey string
}

// NewResultPublisher publishes step results under routingKey.
func NewResultPublisher(pub *Publisher, routingKey string) *ResultPublisher {
	return &ResultPublisher{pub: pub, routingKey: routingKey}
}

func (rp *ResultPublisher) PublishResult(ctx context.Context, result entity.StepResultMessage) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal step result: %w", err)
	}
	return rp.pub.publish(ctx, rp.pub.exchange, rp.routingKey, body, amqp.Table{
		HeaderState:  string(result.State),
		HeaderJobID:  result.JobID.String(),
		HeaderStatus: string(result.Status),
	})
}

// DeadLetterPublisher parks rejected step requests on a queue through the
// default exchange, body untouched.
type DeadLetterPublisher struct {
	pub   *Publisher
	queue string
}

func NewDeadLetterPublisher(pub *Publisher, queue string) *DeadLetterPublisher {
	return &DeadLetterPublisher{pub: pub, queue: queue}
}

func (dp *DeadLetterPublisher) DeadLetter(ctx context.Context, letter port.DeadLetter) error {
	headers := amqp.Table{HeaderDLReason: letter.Reason}
	if letter.State != "" {
		headers[HeaderState] = string(letter.State)
	}
	if letter.JobID != "" {
		headers[HeaderJobID] = letter.JobID
	}
	return dp.pub.publish(ctx, "", dp.queue, letter.Body, headers)
}
