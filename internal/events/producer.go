package events

import (
	"context"
	"io"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	EntityMessageKind string = "vmtagsync.events.entity"
	ReportMessageKind string = "vmtagsync.events.report"
	defaultTopic      string = "vmtagsync.events"
	defaultSource     string = "vmtagsync.syncer"
)

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// EventProducer is a wrapper around a Writer with the buffer.
// Progress events are buffered so a slow writer never holds up the sync loop.
type EventProducer struct {
	buffer           *buffer
	startConsumingCh chan any
	doneCh           chan any
	drainedCh        chan any
	writer           Writer
	topic            string
	source           string
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		buffer:           newBuffer(),
		startConsumingCh: make(chan any, 1),
		doneCh:           make(chan any),
		drainedCh:        make(chan any),
		writer:           w,
		topic:            defaultTopic,
		source:           defaultSource,
	}

	for _, o := range opts {
		o(ep)
	}

	go ep.run()
	return ep
}

func (ep *EventProducer) Write(ctx context.Context, kind string, body io.Reader) error {
	d, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	if err := ep.buffer.PushBack(&message{
		Kind: kind,
		Data: d,
	}); err != nil {
		return err
	}

	// unblock the producer, a pending wake up is enough
	select {
	case ep.startConsumingCh <- struct{}{}:
	default:
	}

	return nil
}

func (ep *EventProducer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		close(ep.doneCh)
		select {
		case <-ep.drainedCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		return ep.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		zap.S().Named("event_producer").Errorf("event producer closed with error: %s", err)
		return err
	}

	zap.S().Named("event_producer").Info("event producer closed")

	return nil
}

// run sends buffered messages until Close is called, then drains what is left.
func (ep *EventProducer) run() {
	defer close(ep.drainedCh)
	for {
		if ep.buffer.Size() == 0 {
			select {
			case <-ep.startConsumingCh:
			case <-ep.doneCh:
				ep.drain()
				return
			}
		}
		ep.send(ep.buffer.Pop())
	}
}

func (ep *EventProducer) drain() {
	for ep.buffer.Size() > 0 {
		ep.send(ep.buffer.Pop())
	}
}

func (ep *EventProducer) send(msg *message) {
	if msg == nil {
		return
	}

	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(ep.source)
	e.SetType(msg.Kind)
	_ = e.SetData(*cloudevents.StringOfApplicationJSON(), msg.Data)

	if err := ep.writer.Write(context.TODO(), ep.topic, e); err != nil {
		zap.S().Named("event_producer").Errorw("failed to send message", "error", err, "event", e)
	}
}
