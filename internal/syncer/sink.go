package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/kubev2v/vmtag-sync/internal/events"
	"github.com/kubev2v/vmtag-sync/pkg/metrics"
	"go.uber.org/zap"
)

// ProgressEvent is emitted after every processed row. Index counts processed
// rows, starting at 1.
type ProgressEvent struct {
	Index  int          `json:"index"`
	Total  int          `json:"total"`
	Entity string       `json:"entity"`
	Status EntityStatus `json:"status"`
}

// Sink observes a run. It has no influence on control flow.
type Sink interface {
	Progress(ev ProgressEvent)
	Done(report *Report)
}

type NopSink struct{}

func (NopSink) Progress(ProgressEvent) {}
func (NopSink) Done(*Report)           {}

type MultiSink []Sink

func (m MultiSink) Progress(ev ProgressEvent) {
	for _, s := range m {
		s.Progress(ev)
	}
}

func (m MultiSink) Done(report *Report) {
	for _, s := range m {
		s.Done(report)
	}
}

type LogSink struct{}

func (LogSink) Progress(ev ProgressEvent) {
	zap.S().Named("syncer").Infof("[%d/%d] %s: %s", ev.Index, ev.Total, ev.Entity, ev.Status)
}

func (LogSink) Done(r *Report) {
	zap.S().Named("syncer").Infow("sync finished",
		"rows", r.Rows,
		"unchanged", r.Unchanged,
		"applied", r.Applied,
		"already_correct", r.AlreadyCorrect,
		"not_found", r.NotFound,
		"removal_not_confirmed", r.RemovalNotConfirmed,
		"remote_unavailable", r.RemoteUnavailable,
		"invalid_category", r.InvalidCategory,
		"creation_declined", r.CreationDeclined,
		"duration", r.FinishedAt.Sub(r.StartedAt))
}

type MetricsSink struct{}

func (MetricsSink) Progress(ev ProgressEvent) {
	metrics.IncreaseEntityStatusTotalMetric(string(ev.Status))
}

func (MetricsSink) Done(r *Report) {
	for _, e := range r.Entries {
		for _, c := range e.Categories {
			metrics.IncreaseCategoryOutcomeTotalMetric(string(c.Outcome))
		}
	}
	metrics.ObserveRun(r.DryRun, r.FinishedAt, r.FinishedAt.Sub(r.StartedAt))
}

// EventWriter is satisfied by *events.EventProducer.
type EventWriter interface {
	Write(ctx context.Context, kind string, body io.Reader) error
}

// EventSink publishes progress and the final report as events.
type EventSink struct {
	writer EventWriter
	runID  string
}

// NewEventSink tags the report event with runID, the id the run is recorded under.
func NewEventSink(w EventWriter, runID string) *EventSink {
	return &EventSink{writer: w, runID: runID}
}

func (e *EventSink) Progress(ev ProgressEvent) {
	e.write(events.EntityMessageKind, ev)
}

func (e *EventSink) Done(r *Report) {
	e.write(events.ReportMessageKind, events.ReportEvent{
		RunID:               e.runID,
		DryRun:              r.DryRun,
		Rows:                r.Rows,
		Unchanged:           r.Unchanged,
		Applied:             r.Applied,
		AlreadyCorrect:      r.AlreadyCorrect,
		NotFound:            r.NotFound,
		RemovalNotConfirmed: r.RemovalNotConfirmed,
		RemoteUnavailable:   r.RemoteUnavailable,
		InvalidCategory:     r.InvalidCategory,
		CreationDeclined:    r.CreationDeclined,
		DurationSeconds:     r.FinishedAt.Sub(r.StartedAt).Seconds(),
	})
}

func (e *EventSink) write(kind string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		zap.S().Named("syncer").Errorw("failed to encode event", "kind", kind, "error", err)
		return
	}
	if err := e.writer.Write(context.TODO(), kind, bytes.NewReader(data)); err != nil {
		zap.S().Named("syncer").Errorw("failed to publish event", "kind", kind, "error", err)
	}
}
