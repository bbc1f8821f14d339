package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/cuongbtq/earnings-watch/internal/queue"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FetchItems(ctx context.Context, symbol string) ([]domain.TranscriptItem, error) {
	args := m.Called(ctx, symbol)
	items, _ := args.Get(0).([]domain.TranscriptItem)
	return items, args.Error(1)
}

func (m *mockSource) FetchText(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Generation, error) {
	args := m.Called(ctx, req)
	gen, _ := args.Get(0).(*domain.Generation)
	return gen, args.Error(1)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, recipient, subject, body string) error {
	return m.Called(ctx, recipient, subject, body).Error(0)
}

type recordingEnqueuer struct {
	mu          sync.Mutex
	analyses    []int64
	transcripts []int64
}

func (r *recordingEnqueuer) EnqueueForAnalysis(_ context.Context, analysisID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses = append(r.analyses, analysisID)
	return 1, nil
}

func (r *recordingEnqueuer) EnqueueForTranscript(_ context.Context, transcriptID int64, _ bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, transcriptID)
	return 1, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func jobMessage(kind domain.Kind, id int64) *queue.Message {
	body, _ := json.Marshal(domain.NewJobMessage(kind, id))
	return &queue.Message{ID: id, Topic: kind.Topic(), Payload: body, AvailableAt: time.Now()}
}

func checkMessage(m domain.CheckMessage) *queue.Message {
	body, _ := json.Marshal(m)
	return &queue.Message{ID: 1, Topic: domain.TopicTranscriptCheck, Payload: body, AvailableAt: time.Now()}
}
