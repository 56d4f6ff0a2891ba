package events

// ReportEvent is the payload of ReportMessageKind events.
type ReportEvent struct {
	RunID               string  `json:"run_id,omitempty"`
	DryRun              bool    `json:"dry_run"`
	Rows                int     `json:"rows"`
	Unchanged           int     `json:"unchanged"`
	Applied             int     `json:"applied"`
	AlreadyCorrect      int     `json:"already_correct"`
	NotFound            int     `json:"not_found"`
	RemovalNotConfirmed int     `json:"removal_not_confirmed"`
	RemoteUnavailable   int     `json:"remote_unavailable"`
	InvalidCategory     int     `json:"invalid_category"`
	CreationDeclined    int     `json:"creation_declined"`
	DurationSeconds     float64 `json:"duration_seconds"`
}
