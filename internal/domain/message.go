package domain

import "fmt"

// JobMessage is the queue payload for job-shaped topics. Only the field of
// the message's kind is set.
type JobMessage struct {
	AnalysisJobID      int64 `json:"analysis_job_id,omitempty"`
	EmailOutboxID      int64 `json:"email_outbox_id,omitempty"`
	GroupResearchRunID int64 `json:"group_research_run_id,omitempty"`
}

// NewJobMessage builds the payload referencing job id of the given kind
func NewJobMessage(kind Kind, id int64) JobMessage {
	switch kind {
	case KindEmail:
		return JobMessage{EmailOutboxID: id}
	case KindGroupResearch:
		return JobMessage{GroupResearchRunID: id}
	default:
		return JobMessage{AnalysisJobID: id}
	}
}

// JobID extracts the referenced id for kind
func (m JobMessage) JobID(kind Kind) (int64, error) {
	var id int64
	switch kind {
	case KindEmail:
		id = m.EmailOutboxID
	case KindGroupResearch:
		id = m.GroupResearchRunID
	default:
		id = m.AnalysisJobID
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: missing %s job id", ErrInvalidPayload, kind)
	}
	return id, nil
}

// Check reasons
const (
	ReasonScheduled = "scheduled"
	ReasonManual    = "manual"
)

// CheckMessage is the transcript_check payload
type CheckMessage struct {
	StockID  int64  `json:"stock_id"`
	Priority int    `json:"priority"`
	Quarter  string `json:"quarter"`
	Year     int    `json:"year"`
	Reason   string `json:"reason"`
}

// Validate rejects payloads missing identity fields
func (m CheckMessage) Validate() error {
	if m.StockID <= 0 || m.Quarter == "" || m.Year <= 0 {
		return fmt.Errorf("%w: transcript check needs stock_id, quarter and year", ErrInvalidPayload)
	}
	return nil
}

// Period returns the period the check targets
func (m CheckMessage) Period() Period {
	return Period{Quarter: m.Quarter, Year: m.Year}
}
