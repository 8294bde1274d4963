package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"lararun/internal/logger"
	"lararun/internal/observability"
)

// Writer is the subset of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes change events to a topic keyed by user id, so one
// user's events stay ordered within a partition.
type KafkaPublisher struct {
	writer Writer
	topic  string
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
	}, topic)
}

func newKafkaPublisher(w Writer, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt ActivityChanged) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", evt.Kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.UserID, 10)),
		Value: payload,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s event to %s: %w", evt.Kind, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// NewKafkaReader creates a consumer-group reader for the change topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
		MaxWait:        time.Second,
	})
}

// Processor pulls change events from Kafka and hands them to a Handler.
type Processor struct {
	reader  Reader
	handler Handler
	log     *logger.Logger
}

func NewProcessor(reader Reader, handler Handler, log *logger.Logger) *Processor {
	return &Processor{
		reader:  reader,
		handler: handler,
		log:     log.With("component", "EventProcessor"),
	}
}

// Run processes messages until the context is cancelled. Malformed messages
// are committed so they cannot block the partition; handler failures are
// left uncommitted.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.log.Warn("fetch error", "error", err)
			continue
		}

		var evt ActivityChanged
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.ActivityID == 0 {
			p.log.Warn("dropping malformed event", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			observability.RecordEvent("unknown", "malformed")
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.log.Warn("commit error after decode failure", "error", commitErr)
			}
			continue
		}

		if err := p.handler.Handle(ctx, evt); err != nil {
			p.log.Error("handler error", "kind", evt.Kind, "activity_id", evt.ActivityID, "error", err)
			observability.RecordEvent(string(evt.Kind), "error")
			continue
		}

		if err := p.reader.CommitMessages(ctx, msg); err != nil {
			p.log.Warn("commit error", "error", err)
			continue
		}
		observability.RecordEvent(string(evt.Kind), "handled")
	}
}
