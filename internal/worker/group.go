package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/queue"
	"github.com/cuongbtq/earnings-watch/internal/retry"
)

// Non-retryable group research failures
const (
	MsgGroupNotFound       = "Group not found or inactive"
	MsgGroupPromptMissing  = "Group has no research prompt"
	MsgGroupAnalysesMissed = "Not every group stock has an analysis for the period"
)

// GroupResearchLease protects a run while the generator runs
const GroupResearchLease = 2 * time.Hour

// GroupStore is what the group research processor reads and writes
type GroupStore interface {
	GetActiveGroup(ctx context.Context, id int64) (*domain.Group, error)
	GroupDigests(ctx context.Context, stockIDs []int64, period domain.Period) ([]domain.GroupDigest, error)
	CommitGroupResearch(ctx context.Context, runID int64, result domain.GroupResult, now time.Time) error
}

// GroupResearchConfig wires a GroupResearchProcessor
type GroupResearchConfig struct {
	Jobs      JobStore
	Store     GroupStore
	Generator TextGenerator
	Events    EventPublisher
	Retry     *retry.Policy
	Timeout   time.Duration
	MaxTokens int
	Logger    *slog.Logger
}

// GroupResearchProcessor runs the group prompt over its members' analyses
type GroupResearchProcessor struct {
	runner    *jobRunner
	store     GroupStore
	generator TextGenerator
	events    EventPublisher
	maxTokens int
}

// NewGroupResearchProcessor creates a new GroupResearchProcessor instance
func NewGroupResearchProcessor(cfg GroupResearchConfig) *GroupResearchProcessor {
	return &GroupResearchProcessor{
		runner:    newJobRunner(domain.KindGroupResearch, cfg.Jobs, cfg.Retry, GroupResearchLease, cfg.Timeout, cfg.Logger),
		store:     cfg.Store,
		generator: cfg.Generator,
		events:    cfg.Events,
		maxTokens: cfg.MaxTokens,
	}
}

// Process handles one group research message
func (p *GroupResearchProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var (
		group   *domain.Group
		period  domain.Period
		digests []domain.GroupDigest
		result  domain.GroupResult
		done    bool
	)

	err := p.runner.run(ctx, msg, phases{
		validate: func(ctx context.Context, job *domain.Job) error {
			var err error
			if _, period, err = domain.ParseGroupRunKey(job.Key); err != nil {
				return err
			}
			group, err = p.store.GetActiveGroup(ctx, job.SubjectID)
			if errors.Is(err, domain.ErrGroupNotFound) {
				return domain.NonRetryable(MsgGroupNotFound)
			}
			if err != nil {
				return err
			}
			if strings.TrimSpace(group.Prompt) == "" {
				return domain.NonRetryable(MsgGroupPromptMissing)
			}

			digests, err = p.store.GroupDigests(ctx, group.StockIDs, period)
			if err != nil {
				return err
			}
			if len(group.StockIDs) == 0 || len(digests) < len(group.StockIDs) {
				return domain.NonRetryable(MsgGroupAnalysesMissed)
			}
			return nil
		},
		execute: func(ctx context.Context, job *domain.Job) error {
			gen, err := p.generator.Generate(ctx, domain.GenerateRequest{
				Prompt:       GroupPrompt(group, period, digests),
				SystemPrompt: group.Prompt,
				MaxTokens:    p.maxTokens,
				Thinking:     true,
				Task:         "group_research",
			})
			if err != nil {
				return fmt.Errorf("failed to generate group research: %w", err)
			}
			result = domain.GroupResult{
				PromptSnapshot: group.Prompt,
				Output:         gen.Text,
				Provider:       gen.Provider,
				ModelID:        gen.ModelID,
			}
			return nil
		},
		commit: func(ctx context.Context, job *domain.Job) error {
			if err := p.store.CommitGroupResearch(ctx, job.ID, result, p.runner.now()); err != nil {
				return err
			}
			done = true
			return nil
		},
	})
	if err != nil || !done {
		return err
	}

	publish(ctx, p.events, p.runner.logger, domain.Event{
		Type:    domain.EventGroupResearchDone,
		GroupID: group.ID,
		Quarter: period.Quarter,
		Year:    period.Year,
	})
	return nil
}

// GroupPrompt concatenates the member analyses into the user prompt
func GroupPrompt(group *domain.Group, period domain.Period, digests []domain.GroupDigest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Group: %s\nPeriod: %s\n", group.Name, period)
	for _, d := range digests {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", d.Ticker, strings.TrimSpace(d.Output))
	}
	return b.String()
}
