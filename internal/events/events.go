// Package events announces issued material to the job-card side.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"cutting-erp/internal/storage"
)

const TypeMaterialIssued = "material.issued"

type Event struct {
	ID     string                `json:"id"`
	Type   string                `json:"type"`
	Source string                `json:"source"`
	Time   time.Time             `json:"time"`
	Data   storage.IssuanceEntry `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per issuance, keyed by requisition so a
// consumer sees a requisition's events in order.
type KafkaPublisher struct {
	writer messageWriter
	source string
}

func NewKafkaPublisher(brokers []string, topic, source string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		source: source,
	}
}

func (p *KafkaPublisher) PublishIssued(ctx context.Context, entry storage.IssuanceEntry) error {
	const op = "events.KafkaPublisher.PublishIssued"

	ev := Event{
		ID:     uuid.NewString(),
		Type:   TypeMaterialIssued,
		Source: p.source,
		Time:   entry.IssuedAt,
		Data:   entry,
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(entry.RequisitionID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "ce-id", Value: []byte(ev.ID)},
			{Key: "ce-type", Value: []byte(ev.Type)},
			{Key: "ce-source", Value: []byte(ev.Source)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: ev.Time,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops every event. Used when kafka is disabled.
type Nop struct{}

func (Nop) PublishIssued(context.Context, storage.IssuanceEntry) error { return nil }

func (Nop) Close() error { return nil }
