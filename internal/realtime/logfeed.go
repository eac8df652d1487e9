package realtime

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"seopilot/internal/config"
	"seopilot/internal/models"
	"seopilot/internal/tracker"
	"seopilot/pkg/logger"
)

// DefaultAgentLogTopic is where the backend's agents stream progress lines.
const DefaultAgentLogTopic = "agent_logs"

// LogFeed consumes the agents' progress stream from Kafka and appends each
// line to the registry's log aggregator. Redelivered messages collapse in
// the aggregator's de-duplication, so at-least-once delivery is fine here.
type LogFeed struct {
	reader   *kafka.Reader
	registry *tracker.Registry
	logger   *logger.Logger
}

// NewLogFeed creates the consumer. GroupID should be session-unique so each
// dashboard session reads the full stream.
func NewLogFeed(cfg config.KafkaConfig, registry *tracker.Registry, log *logger.Logger) *LogFeed {
	topic := cfg.AgentLogTopic
	if topic == "" {
		topic = DefaultAgentLogTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &LogFeed{reader: reader, registry: registry, logger: log}
}

// Start begins consuming until ctx is cancelled.
func (f *LogFeed) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				f.logger.Info("Stopping agent log consumer...")
				return
			default:
				msg, err := f.reader.FetchMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						f.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error fetching message from Kafka")
					}
					continue
				}

				if err := f.handle(msg); err != nil {
					f.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{
						"topic":     msg.Topic,
						"partition": msg.Partition,
						"offset":    msg.Offset,
					}).Error("Error handling agent log message")
				}

				if err := f.reader.CommitMessages(ctx, msg); err != nil {
					f.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to commit Kafka message")
				}
			}
		}
	}()
}

// Close closes the underlying Kafka reader.
func (f *LogFeed) Close() error {
	return f.reader.Close()
}

func (f *LogFeed) handle(msg kafka.Message) error {
	var entry models.TaskLogEntry
	if err := json.Unmarshal(msg.Value, &entry); err != nil {
		return err
	}
	if entry.TaskID == "" || entry.Message == "" {
		// Malformed lines are dropped rather than surfaced; the stream
		// carries best-effort progress, not state.
		return nil
	}
	f.registry.AppendLog(entry)
	return nil
}
