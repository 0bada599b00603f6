package recommendation_ingester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/assets"
	"shield/apps/reconciler/internal/events"
	"shield/apps/reconciler/internal/model"
)

var ErrInvalidRecommendation = errors.New("invalid weight recommendation")

const readTimeout = time.Second

type Consumer interface {
	Subscribe(topic string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	Close() error
}

type RecommendationStore interface {
	StoreRecommendation(ctx context.Context, rec model.WeightRecommendation) error
}

// Ingester stores the weight vectors the advisory engine publishes. It never acts on them;
// applying a vector is an operator decision.
type Ingester struct {
	logger        *zap.Logger
	kafkaConsumer Consumer
	store         RecommendationStore
	kafkaTopic    string
	now           func() time.Time
}

func NewIngester(kafkaBroker, kafkaTopic string, logger *zap.Logger, store RecommendationStore) (*Ingester, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"group.id":          "shield-recommendation-ingester",
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return newIngester(consumer, kafkaTopic, logger, store), nil
}

func newIngester(consumer Consumer, kafkaTopic string, logger *zap.Logger, store RecommendationStore) *Ingester {
	return &Ingester{
		logger:        logger,
		kafkaConsumer: consumer,
		store:         store,
		kafkaTopic:    kafkaTopic,
		now:           time.Now,
	}
}

func (in *Ingester) Start(ctx context.Context) error {
	in.logger.Info("Starting recommendation ingester...", zap.String("topic", in.kafkaTopic))

	if err := in.kafkaConsumer.Subscribe(in.kafkaTopic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", in.kafkaTopic, err)
	}

	for ctx.Err() == nil {
		msg, err := in.kafkaConsumer.ReadMessage(readTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			in.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := in.processMessage(ctx, msg); err != nil {
			in.logger.Error("Error processing message",
				zap.Int32("partition", msg.TopicPartition.Partition),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
		}
	}

	in.logger.Info("Recommendation ingester stopped")
	return nil
}

func (in *Ingester) processMessage(ctx context.Context, msg *kafka.Message) error {
	var payload events.WeightRecommendationMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecommendation, err)
	}
	if err := validate(payload); err != nil {
		return err
	}

	rec := model.WeightRecommendation{
		ID:            uuid.New().String(),
		Regime:        payload.Regime,
		TargetWeights: payload.TargetWeights,
		Source:        payload.Source,
		ReceivedAt:    in.now().UTC(),
	}
	if rec.Source == "" {
		rec.Source = in.kafkaTopic
	}

	if err := in.store.StoreRecommendation(ctx, rec); err != nil {
		return err
	}

	in.logger.Info("Stored weight recommendation",
		zap.String("id", rec.ID),
		zap.String("regime", rec.Regime),
		zap.Uint64s("target_weights", rec.TargetWeights))
	return nil
}

func validate(msg events.WeightRecommendationMessage) error {
	if len(msg.TargetWeights) == 0 {
		return fmt.Errorf("%w: no target weights", ErrInvalidRecommendation)
	}
	var total uint64
	for _, w := range msg.TargetWeights {
		total += w
	}
	if total != assets.BasisPoints {
		return fmt.Errorf("%w: weights total %d bps", ErrInvalidRecommendation, total)
	}
	return nil
}

func (in *Ingester) Close() error {
	if in.kafkaConsumer != nil {
		return in.kafkaConsumer.Close()
	}
	return nil
}
