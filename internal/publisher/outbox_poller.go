// Package publisher drains the transactional outbox into Kafka. Events are
// written to the outbox in the same transaction as the state change they
// describe, so delivery is at-least-once and never invents state.
package publisher

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/khalidw/consultly/internal/models"
	"github.com/khalidw/consultly/internal/store"
)

type eventSource interface {
	Unprocessed(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id string) error
}

type dbEventSource struct {
	db *sql.DB
}

func (s dbEventSource) Unprocessed(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	return store.GetUnprocessedEvents(ctx, s.db, limit)
}

func (s dbEventSource) MarkProcessed(ctx context.Context, id string) error {
	return store.MarkEventProcessed(ctx, s.db, id)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type OutboxPoller struct {
	source    eventSource
	writer    messageWriter
	tick      time.Duration
	batchSize int
}

func NewOutboxPoller(db *sql.DB, topic string, tick time.Duration, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &OutboxPoller{
		source:    dbEventSource{db: db},
		writer:    w,
		tick:      tick,
		batchSize: 100,
	}
}

// Run polls until ctx is cancelled. Publish or mark failures are logged and
// retried on the next tick; the outbox row stays unprocessed until both
// steps succeed.
func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.processOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processOnce(ctx context.Context) {
	events, err := p.source.Unprocessed(ctx, p.batchSize)
	if err != nil {
		log.Printf("outbox fetch failed: %v", err)
		return
	}

	for _, event := range events {
		msg := kafka.Message{
			// aggregate id keys the partition so events for one order or
			// booking stay ordered
			Key:   []byte(event.AggregateID),
			Value: event.Payload,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "event_id", Value: []byte(event.ID)},
			},
		}

		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			log.Printf("outbox publish failed for event %s: %v", event.ID, err)
			continue
		}

		if err := p.source.MarkProcessed(ctx, event.ID); err != nil {
			log.Printf("outbox mark failed for event %s: %v", event.ID, err)
		}
	}
}
