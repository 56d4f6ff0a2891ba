package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run is one recorded sync execution with its aggregate counters.
type Run struct {
	ID         uuid.UUID `gorm:"primaryKey;type:TEXT;"`
	CreatedAt  time.Time
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
	DryRun     bool
	Source     string `gorm:"type:TEXT;"`
	// Aborted holds the error that cut the run short, empty when it completed.
	Aborted string `gorm:"type:TEXT;"`

	Rows                int
	Unchanged           int
	Applied             int
	AlreadyCorrect      int
	NotFound            int
	RemovalNotConfirmed int
	RemoteUnavailable   int
	InvalidCategory     int
	CreationDeclined    int

	Entries []RunEntry `gorm:"foreignKey:RunID;references:ID;constraint:OnDelete:CASCADE;"`
}

type RunList []Run

func (r Run) String() string {
	val, _ := json.Marshal(r)
	return string(val)
}

// RunEntry is one category outcome of a run, or the entity status when no
// category was touched.
type RunEntry struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	RunID    uuid.UUID `gorm:"type:TEXT;index;not null"`
	Position int
	Entity   string `gorm:"type:TEXT;not null"`
	Status   string `gorm:"type:VARCHAR;size:32;"`
	Category string `gorm:"type:TEXT;"`
	Desired  string `gorm:"type:TEXT;"`
	Previous string `gorm:"type:TEXT;"`
	Outcome  string `gorm:"type:VARCHAR;size:32;"`
	Error    string `gorm:"type:TEXT;"`
}
