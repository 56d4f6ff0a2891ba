package syncer

import (
	"sort"
	"sync"
	"time"

	"github.com/kubev2v/vmtag-sync/internal/reconcile"
)

type EntityStatus string

const (
	StatusUnchanged EntityStatus = "unchanged"
	StatusChanged   EntityStatus = "changed"
	StatusNotFound  EntityStatus = "not-found"
	StatusFailed    EntityStatus = "failed"
)

// Category outcomes that never reach the reconciler.
const (
	InvalidCategory  reconcile.Outcome = "invalid-category"
	CreationDeclined reconcile.Outcome = "creation-declined"
)

type CategoryResult struct {
	Category string            `json:"category"`
	Desired  string            `json:"desired"`
	Previous string            `json:"previous,omitempty"`
	Outcome  reconcile.Outcome `json:"outcome"`
	Error    string            `json:"error,omitempty"`
}

type EntityResult struct {
	// Index is the zero based position of the row in the desired-state input.
	Index      int              `json:"index"`
	Entity     string           `json:"entity"`
	Status     EntityStatus     `json:"status"`
	Categories []CategoryResult `json:"categories,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type Report struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DryRun     bool      `json:"dryRun"`

	Rows                int `json:"rows"`
	Unchanged           int `json:"unchanged"`
	Applied             int `json:"applied"`
	AlreadyCorrect      int `json:"alreadyCorrect"`
	NotFound            int `json:"notFound"`
	RemovalNotConfirmed int `json:"removalNotConfirmed"`
	RemoteUnavailable   int `json:"remoteUnavailable"`
	InvalidCategory     int `json:"invalidCategory"`
	CreationDeclined    int `json:"creationDeclined"`

	Entries []EntityResult `json:"entries"`

	lock sync.Mutex
}

func newReport(rows int, dryRun bool) *Report {
	return &Report{
		StartedAt: time.Now(),
		DryRun:    dryRun,
		Rows:      rows,
		Entries:   make([]EntityResult, 0, rows),
	}
}

// add records one processed row and returns how many rows are done.
func (r *Report) add(res EntityResult) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	switch res.Status {
	case StatusUnchanged:
		r.Unchanged++
	case StatusNotFound:
		r.NotFound++
	}
	for _, c := range res.Categories {
		switch c.Outcome {
		case reconcile.Applied:
			r.Applied++
		case reconcile.AlreadyCorrect:
			r.AlreadyCorrect++
		case reconcile.RemovalNotConfirmed:
			r.RemovalNotConfirmed++
		case reconcile.RemoteUnavailable:
			r.RemoteUnavailable++
		case InvalidCategory:
			r.InvalidCategory++
		case CreationDeclined:
			r.CreationDeclined++
		}
	}
	r.Entries = append(r.Entries, res)
	return len(r.Entries)
}

func (r *Report) finish() {
	r.lock.Lock()
	defer r.lock.Unlock()
	sort.SliceStable(r.Entries, func(i, j int) bool { return r.Entries[i].Index < r.Entries[j].Index })
	r.FinishedAt = time.Now()
}

// Failed returns the entries that did not fully converge.
func (r *Report) Failed() []EntityResult {
	var failed []EntityResult
	for _, e := range r.Entries {
		if e.Status == StatusFailed || e.Status == StatusNotFound {
			failed = append(failed, e)
			continue
		}
		for _, c := range e.Categories {
			if c.Error != "" {
				failed = append(failed, e)
				break
			}
		}
	}
	return failed
}
