// Package eventbus publishes completed execution traces to Kafka so
// downstream compliance consumers get an immutable feed independent of the
// gateway's own storage.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"aerogate/pkg/models"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes trace records to one topic, keyed by trace id so a
// partition preserves per-trace order.
type Publisher struct {
	writer kafkaWriter
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func NewKafkaPublisher(cfg KafkaConfig) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Publisher{writer: w}, nil
}

// TraceRecord is the wire shape of one published trace.
type TraceRecord struct {
	TraceID     string             `json:"trace_id"`
	UserID      string             `json:"user_id"`
	RiskTier    models.RiskTier    `json:"risk_tier"`
	Status      models.TraceStatus `json:"status"`
	Hash        string             `json:"hash"`
	EventCount  int                `json:"event_count"`
	CompletedAt string             `json:"completed_at"`
}

// PublishTrace emits one completed trace.
func (p *Publisher) PublishTrace(ctx context.Context, trace *models.ExecutionTrace, hash string) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("kafka publisher not initialized")
	}
	completedAt := ""
	if trace.EndTime != nil {
		completedAt = trace.EndTime.UTC().Format(time.RFC3339Nano)
	}
	rec := TraceRecord{
		TraceID:     trace.TraceID,
		UserID:      trace.UserID,
		RiskTier:    trace.RiskTier,
		Status:      trace.Status,
		Hash:        hash,
		EventCount:  len(trace.Events),
		CompletedAt: completedAt,
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(trace.TraceID),
		Value: value,
	})
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
