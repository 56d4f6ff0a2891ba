package store

import (
	"github.com/kubev2v/vmtag-sync/internal/store/model"
	"github.com/kubev2v/vmtag-sync/internal/syncer"
)

// FromReport maps a sync report onto a run record. runErr is the error that
// aborted the run, if any.
func FromReport(report *syncer.Report, source string, runErr error) model.Run {
	run := model.Run{
		StartedAt:           report.StartedAt,
		FinishedAt:          report.FinishedAt,
		DryRun:              report.DryRun,
		Source:              source,
		Rows:                report.Rows,
		Unchanged:           report.Unchanged,
		Applied:             report.Applied,
		AlreadyCorrect:      report.AlreadyCorrect,
		NotFound:            report.NotFound,
		RemovalNotConfirmed: report.RemovalNotConfirmed,
		RemoteUnavailable:   report.RemoteUnavailable,
		InvalidCategory:     report.InvalidCategory,
		CreationDeclined:    report.CreationDeclined,
	}
	if runErr != nil {
		run.Aborted = runErr.Error()
	}

	for _, e := range report.Entries {
		// unchanged entities carry no information worth keeping
		if e.Status == syncer.StatusUnchanged {
			continue
		}
		if len(e.Categories) == 0 {
			run.Entries = append(run.Entries, model.RunEntry{
				Position: e.Index,
				Entity:   e.Entity,
				Status:   string(e.Status),
				Error:    e.Error,
			})
			continue
		}
		for _, c := range e.Categories {
			run.Entries = append(run.Entries, model.RunEntry{
				Position: e.Index,
				Entity:   e.Entity,
				Status:   string(e.Status),
				Category: c.Category,
				Desired:  c.Desired,
				Previous: c.Previous,
				Outcome:  string(c.Outcome),
				Error:    c.Error,
			})
		}
	}
	return run
}
