// Package events publishes audit/observability events. Publishing is
// fire-and-forget and never required for correctness.
package events

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/CurioWorks/commerce_layer/pkg/logger"
)

// Topics emitted by the settlement core.
const (
	TopicPurchaseCompleted = "purchase.completed"
	TopicPurchaseFailed    = "purchase.failed"
	TopicChainTxFailed     = "chain.tx.failed"
	TopicSequenceGap       = "chain.sequence.gap"
	TopicUnreconciled      = "payments.unreconciled"
	TopicLockStuck         = "settlement.lock.stuck"
)

// Publisher emits an event to a topic. Implementations must not block the
// caller on delivery and must never return correctness-relevant errors.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{})
}

// RedisPublisher publishes events over redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	log    *logger.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher on an existing redis client.
func NewRedisPublisher(client *redis.Client, log *logger.Logger) *RedisPublisher {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &RedisPublisher{client: client, log: log}
}

// Publish marshals payload and publishes it. Failures are logged and dropped.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.WithError(err).WithField("topic", topic).Warn("drop unmarshalable event")
		return
	}
	if err := p.client.Publish(ctx, topic, body).Err(); err != nil {
		p.log.WithError(err).WithField("topic", topic).Warn("event publish failed")
	}
}

// Noop discards all events. Used when no broker is configured and in tests.
type Noop struct{}

var _ Publisher = Noop{}

func (Noop) Publish(context.Context, string, interface{}) {}

// Recorder captures events in memory for assertions in tests.
type Recorder struct {
	Events []Recorded
}

// Recorded is one captured event.
type Recorded struct {
	Topic   string
	Payload interface{}
}

var _ Publisher = (*Recorder)(nil)

func (r *Recorder) Publish(_ context.Context, topic string, payload interface{}) {
	r.Events = append(r.Events, Recorded{Topic: topic, Payload: payload})
}

// Topics returns the captured topics in order.
func (r *Recorder) Topics() []string {
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Topic)
	}
	return out
}
