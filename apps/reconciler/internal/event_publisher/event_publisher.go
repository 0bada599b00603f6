package event_publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/events"
	"shield/apps/reconciler/internal/metrics"
	"shield/apps/reconciler/internal/model"
)

const (
	publishInterval = 3 * time.Second
	batchSize       = 100
	// claims older than this belong to a publisher that died mid-batch
	staleClaimAfter = 5 * time.Minute
)

type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

type OutboxStore interface {
	GetUnsentEventsForProcessing(ctx context.Context, limit int, staleAfter time.Duration) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, eventKey string) error
	MarkEventAsFailed(ctx context.Context, eventKey string) error
}

// EventPublisher relays outbox rows to Kafka. Delivery is at-least-once: a row whose
// sent-mark fails is published again on a later pass.
type EventPublisher struct {
	logger        *zap.Logger
	kafkaProducer Producer
	kafkaTopic    string
	outbox        OutboxStore
	now           func() time.Time
	mu            sync.Mutex
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, logger *zap.Logger, outbox OutboxStore) (*EventPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return newEventPublisher(producer, kafkaTopic, logger, outbox), nil
}

func newEventPublisher(producer Producer, kafkaTopic string, logger *zap.Logger, outbox OutboxStore) *EventPublisher {
	return &EventPublisher{
		logger:        logger,
		kafkaProducer: producer,
		kafkaTopic:    kafkaTopic,
		outbox:        outbox,
		now:           time.Now,
	}
}

func (ep *EventPublisher) Start(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ep.PublishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

// PublishUnsentEvents relays one batch. Only the claim query can fail the pass; per-row
// failures are released back to unsent.
func (ep *EventPublisher) PublishUnsentEvents(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.outbox.GetUnsentEventsForProcessing(ctx, batchSize, staleClaimAfter)
	if err != nil {
		return err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.publishEventToKafka(event); err != nil {
			metrics.OutboxPublished.WithLabelValues("failed").Inc()
			ep.logger.Error("Failed to publish event to Kafka", zap.String("event_key", event.EventKey), zap.String("event_type", event.EventType), zap.Error(err))
			if markErr := ep.outbox.MarkEventAsFailed(ctx, event.EventKey); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.String("event_key", event.EventKey), zap.Error(markErr))
			}
			continue
		}

		metrics.OutboxPublished.WithLabelValues("sent").Inc()
		if err := ep.outbox.MarkEventAsSent(ctx, event.EventKey); err != nil {
			ep.logger.Error("Failed to mark event as sent", zap.String("event_key", event.EventKey), zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}

	return nil
}

func (ep *EventPublisher) publishEventToKafka(event model.OutboxEvent) error {
	msgBytes, err := json.Marshal(events.ProtocolEvent{
		EventKey:  event.EventKey,
		EventType: event.EventType,
		Subject:   event.Subject,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
		Timestamp: ep.now().UTC(),
	})
	if err != nil {
		return err
	}

	deliveryChan := make(chan kafka.Event, 1)
	defer close(deliveryChan)

	err = ep.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Subject), // keeps every event of an intent on one partition
		Value:          msgBytes,
		Headers:        []kafka.Header{{Key: "event_type", Value: []byte(event.EventType)}},
	}, deliveryChan)
	if err != nil {
		return err
	}

	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		return ev.TopicPartition.Error
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (ep *EventPublisher) Close() error {
	if ep.kafkaProducer != nil {
		ep.kafkaProducer.Close()
	}
	return nil
}
