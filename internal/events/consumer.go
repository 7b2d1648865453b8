package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// ErrUnknownTopic is returned for messages on topics the consumer does not handle.
var ErrUnknownTopic = errors.New("unknown topic")

// NotificationHandler reacts to fulfillment events on the customer side.
type NotificationHandler interface {
	HandleCodeIssued(ctx context.Context, event CancellationCodeIssuedEvent) error
	HandleStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error
	HandleAssignmentCancelled(ctx context.Context, event AssignmentCancelledEvent) error
	IsRetryable(err error) bool
}

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
}

type ConsumerMetrics struct {
	ProcessedCount int64 `json:"processed_count"`
	RetryCount     int64 `json:"retry_count"`
	DLQCount       int64 `json:"dlq_count"`
	SuccessCount   int64 `json:"success_count"`
	FailureCount   int64 `json:"failure_count"`
}

type consumerCounters struct {
	processed, retries, dlq, success, failure atomic.Int64
}

func (c *consumerCounters) snapshot() ConsumerMetrics {
	return ConsumerMetrics{
		ProcessedCount: c.processed.Load(),
		RetryCount:     c.retries.Load(),
		DLQCount:       c.dlq.Load(),
		SuccessCount:   c.success.Load(),
		FailureCount:   c.failure.Load(),
	}
}

// MessageMetadata travels with a message into the dead letter topic.
type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FailedAt      time.Time `json:"failed_at"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

// NotificationTopics are the topics the notifier subscribes to.
var NotificationTopics = []string{
	CancellationCodeIssuedTopic,
	OrderStatusChangedTopic,
	AssignmentCancelledTopic,
}

type NotificationConsumer struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	handler       *claimHandler
	logger        *logrus.Logger
	topics        []string
}

func NewNotificationConsumer(brokers, groupID string, handler NotificationHandler, retry RetryPolicy, logger *logrus.Logger) (*NotificationConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	producer, err := NewSyncProducer(brokers)
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return &NotificationConsumer{
		consumerGroup: consumerGroup,
		producer:      producer,
		handler:       newClaimHandler(handler, producer, retry, logger),
		logger:        logger,
		topics:        NotificationTopics,
	}, nil
}

// Start consumes until ctx is cancelled. Consume returns on every rebalance,
// so it is called in a loop.
func (c *NotificationConsumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, c.handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				c.logger.WithError(err).Error("Error consuming from Kafka")
				return err
			}
		}
	}
}

func (c *NotificationConsumer) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close producer")
	}
	return c.consumerGroup.Close()
}

func (c *NotificationConsumer) Metrics() ConsumerMetrics {
	return c.handler.counters.snapshot()
}

type claimHandler struct {
	handler  NotificationHandler
	dlq      sarama.SyncProducer
	retry    RetryPolicy
	logger   *logrus.Logger
	counters *consumerCounters
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

func newClaimHandler(handler NotificationHandler, dlq sarama.SyncProducer, retry RetryPolicy, logger *logrus.Logger) *claimHandler {
	defaults := DefaultRetryPolicy()
	if retry.MaxRetries < 0 {
		retry.MaxRetries = defaults.MaxRetries
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = defaults.InitialDelay
	}
	if retry.MaxDelay < retry.InitialDelay {
		retry.MaxDelay = retry.InitialDelay
	}
	return &claimHandler{
		handler:  handler,
		dlq:      dlq,
		retry:    retry,
		logger:   logger,
		counters: &consumerCounters{},
		sleep:    sleepContext,
		now:      time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := h.process(session.Context(), message); err != nil && session.Context().Err() != nil {
				// Leave the offset unmarked so the next owner redelivers it.
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			h.logger.Info("Consumer group session context cancelled")
			return nil
		}
	}
}

// process handles one message with retries and parks it on the dead letter
// topic when it still fails.
func (h *claimHandler) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	h.counters.processed.Add(1)

	err := h.handleWithRetry(ctx, message)
	if err == nil {
		h.counters.success.Add(1)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	h.counters.failure.Add(1)
	h.logger.WithError(err).WithField("topic", message.Topic).Error("Failed to process message after retries")
	if dlqErr := h.sendToDLQ(message, err); dlqErr != nil {
		h.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
	} else {
		h.counters.dlq.Add(1)
	}
	return err
}

func (h *claimHandler) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	h.logger.WithFields(logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	}).Debug("Processing Kafka message")

	call, err := h.decode(message)
	if err != nil {
		return err
	}

	delay := h.retry.InitialDelay
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			h.logger.WithFields(logrus.Fields{
				"key":     string(message.Key),
				"attempt": attempt,
				"delay":   delay,
			}).Info("Retrying notification")
			if err := h.sleep(ctx, delay); err != nil {
				return err
			}
			h.counters.retries.Add(1)
			delay *= 2
			if delay > h.retry.MaxDelay {
				delay = h.retry.MaxDelay
			}
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		if !h.handler.IsRetryable(err) {
			return err
		}
		if attempt >= h.retry.MaxRetries {
			return fmt.Errorf("exhausted %d retries: %w", h.retry.MaxRetries, err)
		}
		h.logger.WithError(err).WithField("attempt", attempt+1).Warn("Retryable error handling notification")
	}
}

// decode binds the message payload to the handler method for its topic.
// Payloads that do not parse are not retried.
func (h *claimHandler) decode(message *sarama.ConsumerMessage) (func(context.Context) error, error) {
	switch message.Topic {
	case CancellationCodeIssuedTopic:
		var event CancellationCodeIssuedEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal code issued event: %w", err)
		}
		return func(ctx context.Context) error { return h.handler.HandleCodeIssued(ctx, event) }, nil
	case OrderStatusChangedTopic:
		var event OrderStatusChangedEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status changed event: %w", err)
		}
		return func(ctx context.Context) error { return h.handler.HandleStatusChanged(ctx, event) }, nil
	case AssignmentCancelledTopic:
		var event AssignmentCancelledEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assignment cancelled event: %w", err)
		}
		return func(ctx context.Context) error { return h.handler.HandleAssignmentCancelled(ctx, event) }, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, message.Topic)
	}
}

func retryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == "retry_count" {
			if n, err := strconv.Atoi(string(header.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func (h *claimHandler) sendToDLQ(message *sarama.ConsumerMessage, processingError error) error {
	failedAt := h.now().UTC()
	metadata := MessageMetadata{
		RetryCount:    retryCount(message) + 1,
		FailedAt:      failedAt,
		OriginalTopic: message.Topic,
		ErrorMessage:  processingError.Error(),
	}
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: NotificationsDLQTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("retry_count"), Value: []byte(strconv.Itoa(metadata.RetryCount))},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
			{Key: []byte("failure_time"), Value: []byte(failedAt.Format(time.RFC3339))},
		},
	}

	partition, offset, err := h.dlq.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"dlq_topic":     NotificationsDLQTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         processingError.Error(),
	}).Warn("Message sent to dead letter queue")
	return nil
}
