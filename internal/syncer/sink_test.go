package syncer_test

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/kubev2v/vmtag-sync/internal/events"
	"github.com/kubev2v/vmtag-sync/internal/syncer"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type capturedEvent struct {
	kind string
	body []byte
}

type captureWriter struct {
	events []capturedEvent
}

func (c *captureWriter) Write(_ context.Context, kind string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	c.events = append(c.events, capturedEvent{kind: kind, body: data})
	return nil
}

var _ = Describe("sinks", func() {
	It("publishes progress and the final report", func() {
		w := &captureWriter{}
		sink := syncer.NewEventSink(w, "run-1")

		sink.Progress(syncer.ProgressEvent{Index: 1, Total: 1, Entity: "vm1", Status: syncer.StatusChanged})
		started := time.Now()
		sink.Done(&syncer.Report{StartedAt: started, FinishedAt: started.Add(2 * time.Second), Rows: 1, Applied: 1})

		Expect(w.events).To(HaveLen(2))
		Expect(w.events[0].kind).To(Equal(events.EntityMessageKind))
		var progress syncer.ProgressEvent
		Expect(json.Unmarshal(w.events[0].body, &progress)).To(Succeed())
		Expect(progress.Entity).To(Equal("vm1"))

		Expect(w.events[1].kind).To(Equal(events.ReportMessageKind))
		var report events.ReportEvent
		Expect(json.Unmarshal(w.events[1].body, &report)).To(Succeed())
		Expect(report.RunID).To(Equal("run-1"))
		Expect(report.Applied).To(Equal(1))
		Expect(report.DurationSeconds).To(BeNumerically("~", 2, 0.01))
	})

	It("fans out to every sink", func() {
		a, b := &recordingSink{}, &recordingSink{}
		multi := syncer.MultiSink{a, b, syncer.LogSink{}}

		multi.Progress(syncer.ProgressEvent{Index: 1, Total: 2, Entity: "vm1"})
		multi.Done(&syncer.Report{})

		Expect(a.events).To(HaveLen(1))
		Expect(b.events).To(HaveLen(1))
		Expect(a.done).To(BeTrue())
		Expect(b.done).To(BeTrue())
	})
})
