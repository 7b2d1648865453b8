package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/cancellation"
)

// ErrDeliveryDisabled is returned for code delivery when no broker is configured.
var ErrDeliveryDisabled = errors.New("notification delivery is not configured")

type Publisher interface {
	cancellation.CodeNotifier
	PublishStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error
	PublishRepriced(ctx context.Context, event OrderRepricedEvent) error
	PublishAssignmentCancelled(ctx context.Context, event AssignmentCancelledEvent) error
	Close() error
}

// NewSyncProducer connects a producer to a comma separated broker list.
func NewSyncProducer(brokers string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	return sarama.NewSyncProducer(strings.Split(brokers, ","), config)
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
	now      func() time.Time
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, logger: logger, now: time.Now}
}

func (p *KafkaPublisher) PublishStatusChanged(_ context.Context, event OrderStatusChangedEvent) error {
	event.EventTime = p.now().UTC()
	return p.send(OrderStatusChangedTopic, event.OrderID, event, logrus.Fields{"order_id": event.OrderID, "to": event.To})
}

func (p *KafkaPublisher) PublishRepriced(_ context.Context, event OrderRepricedEvent) error {
	event.EventTime = p.now().UTC()
	return p.send(OrderRepricedTopic, event.OrderID, event, logrus.Fields{"order_id": event.OrderID})
}

func (p *KafkaPublisher) PublishAssignmentCancelled(_ context.Context, event AssignmentCancelledEvent) error {
	event.EventTime = p.now().UTC()
	return p.send(AssignmentCancelledTopic, event.AssignmentID, event, logrus.Fields{"assignment_id": event.AssignmentID})
}

// NotifyCodeIssued hands the code to the notifier service through Kafka.
func (p *KafkaPublisher) NotifyCodeIssued(_ context.Context, issuance cancellation.Issuance) error {
	event := CancellationCodeIssuedEvent{
		RequestID:    issuance.RequestID,
		AssignmentID: issuance.AssignmentID,
		UserID:       issuance.UserID,
		Code:         issuance.Code,
		ExpiresAt:    issuance.ExpiresAt,
		EventTime:    p.now().UTC(),
	}
	return p.send(CancellationCodeIssuedTopic, event.AssignmentID, event, logrus.Fields{
		"assignment_id": event.AssignmentID,
		"request_id":    event.RequestID,
	})
}

func (p *KafkaPublisher) send(topic, key string, event interface{}, fields logrus.Fields) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to send message to Kafka")
		return fmt.Errorf("failed to publish %s event: %w", topic, err)
	}

	p.logger.WithFields(fields).WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
	}).Info("Event published to Kafka")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher drops events. Code delivery fails with ErrDeliveryDisabled
// so a cancellation cannot be started that nobody could ever verify.
type NopPublisher struct {
	Logger *logrus.Logger
}

var _ Publisher = NopPublisher{}

func (n NopPublisher) PublishStatusChanged(_ context.Context, event OrderStatusChangedEvent) error {
	n.Logger.WithField("order_id", event.OrderID).Debug("Event publishing disabled, dropping status change")
	return nil
}

func (n NopPublisher) PublishRepriced(_ context.Context, event OrderRepricedEvent) error {
	n.Logger.WithField("order_id", event.OrderID).Debug("Event publishing disabled, dropping reprice")
	return nil
}

func (n NopPublisher) PublishAssignmentCancelled(_ context.Context, event AssignmentCancelledEvent) error {
	n.Logger.WithField("assignment_id", event.AssignmentID).Debug("Event publishing disabled, dropping cancellation")
	return nil
}

func (n NopPublisher) NotifyCodeIssued(context.Context, cancellation.Issuance) error {
	return ErrDeliveryDisabled
}

func (n NopPublisher) Close() error { return nil }
