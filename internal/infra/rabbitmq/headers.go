package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers set on step traffic so requests can be routed and inspected without
// decoding the body.
const (
	HeaderState    = "x-step-state"
	HeaderJobID    = "x-job-id"
	HeaderStatus   = "x-job-status"
	HeaderDLReason = "x-dlq-reason"
)

// headerCarrier exposes AMQP headers to otel propagators, so a job keeps one
// trace across all of its steps.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
