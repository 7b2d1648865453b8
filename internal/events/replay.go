package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

var (
	ErrReplayLimit  = errors.New("exceeded maximum replay attempts")
	ErrCodeTooStale = errors.New("cancellation code expired before it could be delivered")
)

const DefaultMaxReplays = 6

// Replayer moves dead-lettered notifications back onto their original topic.
// Codes that have already expired are dropped instead of replayed.
type Replayer struct {
	consumer   sarama.ConsumerGroup
	producer   sarama.SyncProducer
	logger     *logrus.Logger
	maxReplays int
	delay      time.Duration
	now        func() time.Time
}

func NewReplayer(brokers string, delay time.Duration, logger *logrus.Logger) (*Replayer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	consumer, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), "notifier-dlq-replay", config)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}
	producer, err := NewSyncProducer(brokers)
	if err != nil {
		consumer.Close()
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	r := newReplayer(producer, logger)
	r.consumer = consumer
	r.delay = delay
	return r, nil
}

func newReplayer(producer sarama.SyncProducer, logger *logrus.Logger) *Replayer {
	return &Replayer{producer: producer, logger: logger, maxReplays: DefaultMaxReplays, now: time.Now}
}

func (r *Replayer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("DLQ replayer context cancelled")
			return nil
		default:
			if err := r.consumer.Consume(ctx, []string{NotificationsDLQTopic}, r); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				r.logger.WithError(err).Error("Error consuming from DLQ")
				return err
			}
		}
	}
}

func (r *Replayer) Close() error {
	if err := r.producer.Close(); err != nil {
		r.logger.WithError(err).Error("Failed to close producer")
	}
	return r.consumer.Close()
}

func metadataOf(message *sarama.ConsumerMessage) MessageMetadata {
	metadata := MessageMetadata{OriginalTopic: message.Topic}
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == "metadata" {
			_ = json.Unmarshal(header.Value, &metadata)
			break
		}
	}
	return metadata
}

// Replay republishes one dead-lettered message.
func (r *Replayer) Replay(message *sarama.ConsumerMessage) error {
	metadata := metadataOf(message)
	fields := logrus.Fields{
		"key":            string(message.Key),
		"original_topic": metadata.OriginalTopic,
		"retry_count":    metadata.RetryCount,
	}

	if metadata.RetryCount >= r.maxReplays {
		r.logger.WithFields(fields).Error("Message exceeded maximum replay attempts")
		return ErrReplayLimit
	}
	if metadata.OriginalTopic == CancellationCodeIssuedTopic {
		var event CancellationCodeIssuedEvent
		if err := json.Unmarshal(message.Value, &event); err == nil && !r.now().Before(event.ExpiresAt) {
			r.logger.WithFields(fields).Warn("Dropping expired cancellation code")
			return ErrCodeTooStale
		}
	}

	replay := &sarama.ProducerMessage{
		Topic: metadata.OriginalTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("retry_count"), Value: []byte(strconv.Itoa(metadata.RetryCount))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
			{Key: []byte("replay_time"), Value: []byte(r.now().UTC().Format(time.RFC3339))},
		},
	}

	partition, offset, err := r.producer.SendMessage(replay)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}

	r.logger.WithFields(fields).WithFields(logrus.Fields{
		"replay_partition": partition,
		"replay_offset":    offset,
	}).Info("Message replayed from DLQ")
	return nil
}

func (r *Replayer) Setup(sarama.ConsumerGroupSession) error {
	r.logger.Info("DLQ consumer session setup")
	return nil
}

func (r *Replayer) Cleanup(sarama.ConsumerGroupSession) error {
	r.logger.Info("DLQ consumer session cleanup")
	return nil
}

func (r *Replayer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if r.delay > 0 {
				if err := sleepContext(session.Context(), r.delay); err != nil {
					return nil
				}
			}
			if err := r.Replay(message); err != nil {
				r.logger.WithError(err).Error("Failed to replay DLQ message")
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
