package calls

import "time"

// CallSession is one tracked phone call, keyed by the control plane's call id.
//
// Invariants:
// - ID and Destination never change after creation.
// - IsActive is derived from Status; terminal statuses are absorbing.
// - MessagesSent, Transcriptions and Recordings are append-only.
//
// Values handed out by the Registry are snapshots. Mutating them does not
// affect the registry.
type CallSession struct {
	ID          string `json:"call_id"`
	Destination string `json:"destination"`

	// Operator is the authenticated user that placed the call, if known.
	Operator string `json:"operator,omitempty"`

	Status   Status `json:"status"`
	IsActive bool   `json:"is_active"`

	StartTime time.Time  `json:"start_time"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	MessagesSent   []MessageEntry `json:"messages_sent"`
	Transcriptions []ContentEntry `json:"transcriptions,omitempty"`
	Recordings     []ContentEntry `json:"recordings,omitempty"`
}

// ControlledBy reports whether actor may act on the session: the operator that
// placed it, or anyone when no operator was recorded.
func (s CallSession) ControlledBy(actor string) bool {
	return s.Operator == "" || s.Operator == actor
}

// MessageEntry records one operator message that was spoken into the call.
type MessageEntry struct {
	Text string `json:"text"`
	// Escaped is the markup-safe form that was sent in the speech directive.
	Escaped string `json:"escaped"`

	Voice    string `json:"voice"`
	Rate     string `json:"rate"`
	Strategy string `json:"strategy,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ContentEntry is a transcription or recording reported by the control plane.
// Text is set for transcriptions, URL for recordings.
type ContentEntry struct {
	Text      string    `json:"text,omitempty"`
	URL       string    `json:"url,omitempty"`
	SourceID  string    `json:"source_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Valid reports whether s is one of the known lifecycle statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusRinging, StatusInProgress, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is an absorbing end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// rank orders statuses along the natural lifecycle. All terminal statuses share
// the highest rank so one terminal state never replaces another.
func (s Status) rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	default:
		return 3
	}
}

// Transition describes the effect of an UpdateStatus call.
type Transition struct {
	CallID string
	From   Status
	To     Status

	// Applied is false when the update was a repeat or a lifecycle regression.
	Applied bool
}
