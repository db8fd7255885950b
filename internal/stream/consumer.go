package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/atlasrisk/atlas/internal/metrics"
	"github.com/atlasrisk/atlas/internal/risk"
)

// fetchRetryDelay is how long the consumer backs off after a broker fetch
// error before trying again.
const fetchRetryDelay = 500 * time.Millisecond

// ConsumerConfig identifies the Kafka stream to consume.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads transaction events from Kafka and feeds them through a
// Processor. It joins a consumer group, so scaling out means running more
// instances. Offsets are committed after processing; malformed messages are
// counted, logged, and skipped so a poison message cannot wedge the
// partition.
type Consumer struct {
	reader *kafka.Reader
	proc   *Processor
	logger *slog.Logger
	done   chan struct{}
}

// NewConsumer creates a consumer for the given topic. The reader connects
// lazily on the first fetch.
func NewConsumer(cfg ConsumerConfig, proc *Processor, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		}),
		proc:   proc,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins consuming in the background. Call Stop to shut down.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("stream consumer started",
		"topic", c.reader.Config().Topic,
		"group", c.reader.Config().GroupID,
	)
	go c.run(ctx)
}

// Stop closes the reader and waits for the run loop to exit. Only valid
// after Start.
func (c *Consumer) Stop() error {
	err := c.reader.Close()
	<-c.done
	return err
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-time.After(fetchRetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		c.handle(ctx, msg.Value, msg.Offset)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit offset",
				"offset", msg.Offset, "error", err)
		}
	}
}

// handle decodes one message and runs it through the pipeline. Processing
// errors are logged, not returned: the offset is committed either way, since
// an event the scorer rejects now will be rejected on redelivery too.
func (c *Consumer) handle(ctx context.Context, value []byte, offset int64) {
	var ev risk.Event
	if err := json.Unmarshal(value, &ev); err != nil {
		metrics.StreamEventsTotal.WithLabelValues("malformed").Inc()
		c.logger.Error("dropping malformed event",
			"offset", offset, "error", err)
		return
	}
	if _, err := c.proc.Process(ctx, &ev); err != nil {
		c.logger.Error("failed to process event",
			"event_id", ev.ID, "offset", offset, "error", err)
	}
}
