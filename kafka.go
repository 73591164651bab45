package transactionapp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// TransactionResult is emitted for every completed authorize/load outcome.
type TransactionResult struct {
	MessageID     string    `json:"messageId"`
	UserID        string    `json:"userId"`
	ResponseCode  string    `json:"responseCode"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	DebitOrCredit string    `json:"debitOrCredit"`
	OccurredAt    time.Time `json:"occurredAt"`
}

var (
	_ EventPublisher = (*KafkaPublisher)(nil)
	_ EventPublisher = NopPublisher{}
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event TransactionResult) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.MessageID),
		Value: data,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TransactionResult) error {
	return nil
}
