package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/optimizer"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/logger"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one message per calibration event, keyed by
// <title>/<stage> so a calibration's events stay ordered in one partition.
type Kafka struct {
	Writer  MessageWriter
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		Timeout: 10 * time.Second,
	}
}

// Observe implements optimizer.Observer. Publishing failures are logged and
// never interrupt the calibration.
func (k *Kafka) Observe(ctx context.Context, ev optimizer.Event) {
	log := logger.Component(k.Logger, "kafka")
	value, err := json.Marshal(NewPayload(ev))
	if err != nil {
		log.Error("failed to encode event", "kind", ev.Kind, "error", err)
		return
	}
	ctx = context.WithoutCancel(ctx)
	if k.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.Timeout)
		defer cancel()
	}
	msg := kafka.Message{
		Key:   []byte(ev.Title + "/" + ev.Stage),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := k.Writer.WriteMessages(ctx, msg); err != nil {
		log.Warn("failed to publish event", "kind", ev.Kind, "error", err)
	}
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.Writer.Close() }
