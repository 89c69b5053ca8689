package events

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	SaleCompleted = "sale.completed"
	SaleCancelled = "sale.cancelled"
)

type Event struct {
	EventID       string         `json:"event_id"`
	Type          string         `json:"type"`
	SaleID        int64          `json:"sale_id"`
	InvoiceNumber string         `json:"invoice_number"`
	CreatedAt     time.Time      `json:"created_at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ Event) error {
	return nil
}

// KafkaPublisher writes sale events keyed by sale id so every event of one
// sale lands on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(brokersCSV string) []string {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.SaleID, 10)),
		Value: data,
		Time:  event.CreatedAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
