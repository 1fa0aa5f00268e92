package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	contractsv1 "rewards/contracts/gen/events/v1"
)

const logModule = "internal/platform/messaging"

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("event bus closed")

// Handler consumes one settlement event.
type Handler func(context.Context, contractsv1.Envelope) error

// Kafka is the event bus the outbox relay publishes settlement events to.
// Delivery is in-process: every subscriber of a topic gets each event in
// publish order, and a full subscriber buffer drops the event with a warning.
type Kafka struct {
	mu          sync.RWMutex
	brokers     []string
	subscribers map[string][]chan contractsv1.Envelope
	closed      bool
	logger      *slog.Logger
}

func NewKafka(brokers []string, logger *slog.Logger) (*Kafka, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kafka{
		brokers:     append([]string(nil), brokers...),
		subscribers: make(map[string][]chan contractsv1.Envelope),
		logger:      logger,
	}, nil
}

func (k *Kafka) Brokers() []string {
	return append([]string(nil), k.brokers...)
}

func (k *Kafka) Publish(ctx context.Context, topic string, event contractsv1.Envelope) error {
	// Sends never block, so the read lock also keeps Close from closing a
	// channel mid-send.
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return ErrClosed
	}

	for _, sub := range k.subscribers[topic] {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub <- event:
		default:
			k.logger.Warn("dropping event for slow subscriber",
				"event", "kafka_publish_drop",
				"module", logModule,
				"layer", "platform",
				"topic", topic,
				"event_id", event.EventID,
				"partition_key", event.PartitionKey,
			)
		}
	}

	k.logger.Info("event published",
		"event", "kafka_publish",
		"module", logModule,
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"partition_key", event.PartitionKey,
	)
	return nil
}

// Subscribe runs handler for each event on topic until ctx is done.
func (k *Kafka) Subscribe(ctx context.Context, topic string, consumerGroup string, handler Handler) error {
	ch := make(chan contractsv1.Envelope, 128)

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrClosed
	}
	k.subscribers[topic] = append(k.subscribers[topic], ch)
	k.mu.Unlock()

	go func() {
		defer k.removeSubscriber(topic, ch)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, event); err != nil {
					k.logger.Error("consumer handler failed",
						"event", "kafka_consume_failed",
						"module", logModule,
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

// Close stops every subscriber. Later publishes fail with ErrClosed.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	for topic, subs := range k.subscribers {
		for _, sub := range subs {
			close(sub)
		}
		delete(k.subscribers, topic)
	}
	return nil
}

func (k *Kafka) removeSubscriber(topic string, target chan contractsv1.Envelope) {
	k.mu.Lock()
	defer k.mu.Unlock()

	items := k.subscribers[topic]
	if len(items) == 0 {
		return
	}
	filtered := make([]chan contractsv1.Envelope, 0, len(items))
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	k.subscribers[topic] = filtered
}
