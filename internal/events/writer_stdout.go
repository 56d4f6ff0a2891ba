package events

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

// StdoutWriter logs every event, used when no events file is configured.
type StdoutWriter struct{}

func (s *StdoutWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	zap.S().Named("stdout_writer").Debugw("event wrote", "type", e.Type(), "topic", topic, "data", string(e.Data()))
	return nil
}

func (s *StdoutWriter) Close(_ context.Context) error {
	return nil
}
