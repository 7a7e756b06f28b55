// Package events publishes settled payment outcomes for the rest of the site
// (receipts, notifications, dashboards) to consume.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mchango-payments/internal/domain"
	"mchango-payments/internal/metrics"
)

const (
	TypePaymentCompleted    = "payment.completed"
	TypePaymentFailed       = "payment.failed"
	TypeWithdrawalCompleted = "withdrawal.completed"
	TypeWithdrawalFailed    = "withdrawal.failed"

	publishTimeout = 10 * time.Second
)

type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type PaymentData struct {
	CheckoutRequestID string            `json:"checkout_request_id"`
	ReceiptNumber     string            `json:"receipt_number,omitempty"`
	Amount            decimal.Decimal   `json:"amount"`
	Phone             string            `json:"phone"`
	TargetKind        domain.TargetKind `json:"target_kind,omitempty"`
	TargetID          string            `json:"target_id,omitempty"`
	CampaignID        string            `json:"campaign_id,omitempty"`
	Credited          decimal.Decimal   `json:"credited"`
	ResultCode        string            `json:"result_code,omitempty"`
	ResultDesc        string            `json:"result_desc,omitempty"`
}

type WithdrawalData struct {
	WithdrawalID   string          `json:"withdrawal_id"`
	CampaignID     string          `json:"campaign_id"`
	Amount         decimal.Decimal `json:"amount"`
	ConversationID string          `json:"conversation_id"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	ResultDesc     string          `json:"result_desc,omitempty"`
}

// Publisher delivers events keyed for partition affinity.
type Publisher interface {
	Publish(ctx context.Context, key string, evt Event) error
	Close() error
}

// New wraps data in an event envelope with a fresh ID.
func New(eventType string, data any) Event {
	return Event{
		ID:         domain.NewID("evt"),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher writes to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(evt.Type, "error").Inc()
		return fmt.Errorf("publish %s event: %w", evt.Type, err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(evt.Type, "ok").Inc()
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
func (NopPublisher) Close() error                                 { return nil }
