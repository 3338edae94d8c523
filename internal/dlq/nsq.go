package dlq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/thought_relay/internal/delivery"
	"github.com/austindbirch/thought_relay/internal/logging"
)

// DefaultTopic is the NSQ topic dead letters are published to.
const DefaultTopic = "relay_dlq"

// NSQSink publishes dead-letter envelopes to an NSQ topic so external
// consumers can alert on or replay abandoned deliveries.
type NSQSink struct {
	producer *nsq.Producer
	topic    string
	log      *logging.Logger
}

// NewNSQSink connects a producer to nsqd at addr. Topic defaults when empty.
func NewNSQSink(addr, topic string, log *logging.Logger) (*NSQSink, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = logging.New("thought-relay-dlq")
	}
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	return &NSQSink{producer: producer, topic: topic, log: log}, nil
}

// Publish implements delivery.DeadLetterSink.
func (s *NSQSink) Publish(ctx context.Context, dl delivery.DeadLetter) error {
	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := s.producer.Publish(s.topic, body); err != nil {
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	s.log.WithContext(ctx).WithTask(dl.Task.ID).WithField("topic", s.topic).Info("dlq published")
	return nil
}

// Stop flushes and shuts down the producer.
func (s *NSQSink) Stop() {
	s.producer.Stop()
}
