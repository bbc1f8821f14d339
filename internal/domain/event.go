package domain

import "time"

// Event types published to the events exchange
const (
	EventTranscriptAvailable = "transcript.available"
	EventAnalysisCompleted   = "analysis.completed"
	EventEmailSent           = "email.sent"
	EventGroupResearchDone   = "group_research.completed"
)

// Event is a notification about a state change downstream systems may care about
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	StockID      int64     `json:"stock_id,omitempty"`
	TranscriptID int64     `json:"transcript_id,omitempty"`
	AnalysisID   int64     `json:"analysis_id,omitempty"`
	GroupID      int64     `json:"group_id,omitempty"`
	Quarter      string    `json:"quarter,omitempty"`
	Year         int       `json:"year,omitempty"`
	Recipient    string    `json:"recipient,omitempty"`
}
