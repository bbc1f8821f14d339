package dto

// EnqueueAnalysisRequest is the query of POST /api/v1/transcripts/:id/analysis
type EnqueueAnalysisRequest struct {
	Force bool `form:"force"`
}

// EnqueueAnalysisResponse carries the job id, null when nothing was queued
type EnqueueAnalysisResponse struct {
	JobID *int64 `json:"job_id"`
}

// TriggerCheckRequest optionally pins the period to check
type TriggerCheckRequest struct {
	Quarter string `json:"quarter" binding:"omitempty,oneof=Q1 Q2 Q3 Q4"`
	Year    int    `json:"year" binding:"omitempty,gte=2000,lte=2100"`
}

// TriggerCheckResponse acknowledges a queued check
type TriggerCheckResponse struct {
	StockID int64  `json:"stock_id"`
	Status  string `json:"status"`
}

// RunSchedulerResponse reports one manual sync and enqueue pass
type RunSchedulerResponse struct {
	Checks int            `json:"checks"`
	Jobs   map[string]int `json:"jobs"`
}

// ListJobsRequest is the query of GET /api/v1/analysis-jobs
type ListJobsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Cursor string `form:"cursor"`
}

// ListJobsResponse is one page of jobs
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the public view of an analysis job
type JobDTO struct {
	ID           int64   `json:"id"`
	TranscriptID int64   `json:"transcript_id"`
	Status       string  `json:"status"`
	Attempts     int     `json:"attempts"`
	Force        bool    `json:"force"`
	LastError    *string `json:"last_error,omitempty"`
	RetryNextAt  *string `json:"retry_next_at,omitempty"`
	LockedUntil  *string `json:"locked_until,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
