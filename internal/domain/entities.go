package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Transcript statuses as stored in transcripts.status
const (
	TranscriptAvailable = "available"
	TranscriptUpcoming  = "upcoming"
)

// Analysis statuses as stored in transcripts.analysis_status
const (
	AnalysisInProgress = "in_progress"
	AnalysisDone       = "done"
	AnalysisError      = "error"
)

// Stock is the subset of a stocks row the core needs
type Stock struct {
	ID      int64   `db:"id" json:"id"`
	Symbol  *string `db:"stock_symbol" json:"symbol,omitempty"`
	BSECode *string `db:"bse_code" json:"bse_code,omitempty"`
	Name    *string `db:"stock_name" json:"name,omitempty"`
}

// Ticker returns the identifier used with the transcript provider
func (s *Stock) Ticker() string {
	if s.Symbol != nil && *s.Symbol != "" {
		return *s.Symbol
	}
	if s.BSECode != nil {
		return *s.BSECode
	}
	return ""
}

// DisplayName returns the stock name, falling back to its ticker
func (s *Stock) DisplayName() string {
	if s.Name != nil && *s.Name != "" {
		return *s.Name
	}
	return s.Ticker()
}

// Membership describes how a stock is tracked
type Membership struct {
	InWatchlist   bool
	InActiveGroup bool
}

// AutoAnalyze reports whether new transcripts of the stock get analysed
// individually. Stocks in an active group are covered by group research.
func (m Membership) AutoAnalyze() bool {
	return m.InWatchlist && !m.InActiveGroup
}

// Transcript is one earnings-call transcript row
type Transcript struct {
	ID             int64      `db:"id" json:"id"`
	StockID        int64      `db:"stock_id" json:"stock_id"`
	Quarter        string     `db:"quarter" json:"quarter"`
	Year           int        `db:"year" json:"year"`
	Status         string     `db:"status" json:"status"`
	SourceURL      *string    `db:"source_url" json:"source_url,omitempty"`
	EventDate      *time.Time `db:"event_date" json:"event_date,omitempty"`
	AnalysisStatus *string    `db:"analysis_status" json:"analysis_status,omitempty"`
	AnalysisError  *string    `db:"analysis_error" json:"analysis_error,omitempty"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Source returns the source URL or an empty string
func (t *Transcript) Source() string {
	if t.SourceURL == nil {
		return ""
	}
	return *t.SourceURL
}

// Analysable reports whether the transcript can be sent to the generator
func (t *Transcript) Analysable() bool {
	return t.Status == TranscriptAvailable && t.Source() != ""
}

// Analysis is a generated transcript analysis
type Analysis struct {
	ID             int64   `db:"id" json:"id"`
	TranscriptID   int64   `db:"transcript_id" json:"transcript_id"`
	PromptSnapshot string  `db:"prompt_snapshot" json:"prompt_snapshot"`
	Output         string  `db:"llm_output" json:"output"`
	Provider       string  `db:"model_provider" json:"provider"`
	ModelID        string  `db:"model_id" json:"model_id"`
	TokensIn       int64   `db:"tokens_used_input" json:"tokens_in"`
	TokensOut      int64   `db:"tokens_used_output" json:"tokens_out"`
	CostUSD        float64 `db:"cost_usd" json:"cost_usd"`
}

// AnalysisDigest joins an analysis with its transcript and stock for email delivery
type AnalysisDigest struct {
	AnalysisID int64   `db:"analysis_id"`
	Output     string  `db:"llm_output"`
	Provider   string  `db:"model_provider"`
	ModelID    *string `db:"model_id"`
	StockID    int64   `db:"stock_id"`
	Quarter    string  `db:"quarter"`
	Year       int     `db:"year"`
	SourceURL  *string `db:"source_url"`
	Symbol     *string `db:"stock_symbol"`
	BSECode    *string `db:"bse_code"`
	StockName  *string `db:"stock_name"`
}

// Stock returns the stock embedded in the digest
func (d *AnalysisDigest) Stock() *Stock {
	return &Stock{ID: d.StockID, Symbol: d.Symbol, BSECode: d.BSECode, Name: d.StockName}
}

// Group is an active research group with its members
type Group struct {
	ID       int64
	Name     string
	Prompt   string
	StockIDs []int64
}

// GroupDigest is one member analysis fed into a group research run
type GroupDigest struct {
	StockID int64  `db:"stock_id"`
	Ticker  string `db:"ticker"`
	Output  string `db:"llm_output"`
}

// GroupResult is persisted on a finished group research run
type GroupResult struct {
	PromptSnapshot string
	Output         string
	Provider       string
	ModelID        string
}

// TranscriptItem is one entry returned by the transcript provider
type TranscriptItem struct {
	Status    CheckStatus
	Period    Period
	SourceURL string
	EventTime *time.Time
}

// GenerateRequest is a provider-agnostic text generation request
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Thinking     bool
	Task         string
}

// Generation is the text generator's answer with usage metadata
type Generation struct {
	Text      string
	ModelID   string
	Provider  string
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// GroupRunKey is the idempotency key of a group research run
func GroupRunKey(groupID int64, p Period) string {
	return fmt.Sprintf("%d:%s:%d", groupID, p.Quarter, p.Year)
}

// ParseGroupRunKey reverses GroupRunKey
func ParseGroupRunKey(key string) (int64, Period, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return 0, Period{}, fmt.Errorf("%w: malformed group run key %q", ErrInvalidPayload, key)
	}
	groupID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, Period{}, fmt.Errorf("%w: malformed group run key %q", ErrInvalidPayload, key)
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, Period{}, fmt.Errorf("%w: malformed group run key %q", ErrInvalidPayload, key)
	}
	return groupID, Period{Quarter: parts[1], Year: year}, nil
}
