package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("writes succsessfully", func() {
			w := newTestWriter()
			kp := NewEventProducer(w)

			// add the first message
			msg := []byte(`{"entity":"vm1"}`)
			err := kp.Write(context.TODO(), EntityMessageKind, bytes.NewReader(msg))
			Expect(err).To(BeNil())
			Eventually(w.Len).Should(Equal(1))
			Expect(w.Get(0).Context.GetType()).To(Equal(EntityMessageKind))
			Expect(w.Get(0).Context.GetSource()).To(Equal(defaultSource))

			msg = []byte(`{"rows":1}`)
			err = kp.Write(context.TODO(), ReportMessageKind, bytes.NewReader(msg))
			Expect(err).To(BeNil())

			Eventually(w.Len).Should(Equal(2))
			Expect(kp.Close()).To(Succeed())
		})

		It("drains pending messages on close", func() {
			w := newTestWriter()
			kp := NewEventProducer(w, WithSource("test"))

			for i := 0; i < 50; i++ {
				Expect(kp.Write(context.TODO(), EntityMessageKind, bytes.NewReader([]byte(`{}`)))).To(Succeed())
			}
			Expect(kp.Close()).To(Succeed())
			Expect(w.Len()).To(Equal(50))
			Expect(w.Get(49).Context.GetSource()).To(Equal("test"))
		})
	})

	Context("file writer", func() {
		It("appends one json line per event", func() {
			path := filepath.Join(GinkgoT().TempDir(), "events.jsonl")
			fw, err := NewFileWriter(path)
			Expect(err).To(BeNil())

			kp := NewEventProducer(fw)
			Expect(kp.Write(context.TODO(), EntityMessageKind, bytes.NewReader([]byte(`{"entity":"vm1"}`)))).To(Succeed())
			Expect(kp.Write(context.TODO(), ReportMessageKind, bytes.NewReader([]byte(`{"rows":1}`)))).To(Succeed())
			Expect(kp.Close()).To(Succeed())

			f, err := os.Open(path)
			Expect(err).To(BeNil())
			defer f.Close()

			var types []string
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				var line map[string]any
				Expect(json.Unmarshal(scanner.Bytes(), &line)).To(Succeed())
				types = append(types, line["type"].(string))
			}
			Expect(types).To(Equal([]string{EntityMessageKind, ReportMessageKind}))
		})
	})
})

type testwriter struct {
	lock     sync.Mutex
	Messages []cloudevents.Event
}

func newTestWriter() *testwriter {
	return &testwriter{Messages: []cloudevents.Event{}}
}

func (t *testwriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Messages = append(t.Messages, e)
	return nil
}

func (t *testwriter) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.Messages)
}

func (t *testwriter) Get(i int) cloudevents.Event {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.Messages[i]
}

func (t *testwriter) Close(_ context.Context) error {
	return nil
}
