package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/absmach/flsim/pkg/mqtt"
	"github.com/absmach/flsim/pkg/telemetry"
	"github.com/spf13/cobra"
)

var errNoBroker = errors.New("mqtt.url is not configured")

var watchCmd = cobra.Command{
	Use:   "watch [run-id]",
	Short: "Follow round records published over MQTT",
	Long:  "Subscribe to the round records of one run, or of every run when no ID is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if config.MQTT.URL == "" {
			return errNoBroker
		}
		runID := "+"
		if len(args) == 1 {
			runID = args[0]
		}

		ps, err := newPubSub(config, logger)
		if err != nil {
			return err
		}

		topic := fmt.Sprintf(mqtt.RoundsTopicTemplate, config.MQTT.TopicPrefix, runID)
		return watch(cmd.Context(), ps, topic, func(rec telemetry.Record) {
			logJSONCmd(*cmd, rec)
		})
	},
}

// watch decodes every record published on topic until ctx is done.
func watch(ctx context.Context, ps mqtt.PubSub, topic string, onRecord func(telemetry.Record)) error {
	records := make(chan telemetry.Record, 16)
	handler := func(topic string, payload []byte) error {
		var rec telemetry.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			logger.Warn("Dropping malformed round record", "topic", topic, "error", err)

			return err
		}
		select {
		case records <- rec:
		case <-ctx.Done():
		}

		return nil
	}

	if err := ps.Subscribe(ctx, topic, handler); err != nil {
		return errors.Join(err, ps.Disconnect(context.WithoutCancel(ctx)))
	}
	logger.Info("Watching round records", "topic", topic)

	for {
		select {
		case rec := <-records:
			onRecord(rec)
		case <-ctx.Done():
			cleanup := context.WithoutCancel(ctx)

			return errors.Join(ps.Unsubscribe(cleanup, topic), ps.Disconnect(cleanup))
		}
	}
}

func NewWatchCmd() *cobra.Command {
	return &watchCmd
}
