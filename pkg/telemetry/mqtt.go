package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/absmach/flsim/pkg/mqtt"
)

// MQTTSink publishes every record as JSON on the run's rounds topic.
// Publishing is best effort: failures are logged and the run continues,
// since the file sink holds the authoritative log.
type MQTTSink struct {
	pubsub mqtt.PubSub
	prefix string
	logger *slog.Logger
}

func NewMQTTSink(pubsub mqtt.PubSub, prefix string, logger *slog.Logger) *MQTTSink {
	return &MQTTSink{pubsub: pubsub, prefix: prefix, logger: logger}
}

func (s *MQTTSink) Topic(runID string) string {
	return fmt.Sprintf(mqtt.RoundsTopicTemplate, s.prefix, runID)
}

func (s *MQTTSink) Append(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %d: %w", rec.Round, err)
	}

	if err := s.pubsub.Publish(ctx, s.Topic(rec.RunID), data); err != nil {
		s.logger.WarnContext(ctx, "failed to publish round record",
			slog.String("run_id", rec.RunID),
			slog.Int("round", rec.Round),
			slog.Any("error", err))
	}

	return nil
}

func (s *MQTTSink) Close() error {
	return s.pubsub.Disconnect(context.Background())
}
