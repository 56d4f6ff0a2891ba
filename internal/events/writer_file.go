package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// FileWriter appends events as JSON lines in the structured cloudevents format.
type FileWriter struct {
	lock sync.Mutex
	w    io.WriteCloser
}

func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file %s: %w", path, err)
	}
	return &FileWriter{w: f}, nil
}

func (f *FileWriter) Write(_ context.Context, _ string, e cloudevents.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	_, err = f.w.Write(append(data, '\n'))
	return err
}

func (f *FileWriter) Close(_ context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.w.Close()
}
