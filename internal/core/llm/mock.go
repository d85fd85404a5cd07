package llm

import (
	"context"
	"sync"
)

// MockResponse is one scripted reply for the mock provider.
type MockResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Reached          bool
	Err              error
}

// MockProvider implements Provider with scripted responses for tests and
// keyless local runs. Responses are consumed in FIFO order; when the
// queue is empty an empty JSON object is returned.
type MockProvider struct {
	mu        sync.Mutex
	responses []MockResponse
	calls     []CompletionRequest
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string {
	return "mock"
}

// Enqueue appends scripted responses.
func (p *MockProvider) Enqueue(responses ...MockResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.responses = append(p.responses, responses...)
}

// Calls returns a copy of all requests seen so far.
func (p *MockProvider) Calls() []CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]CompletionRequest, len(p.calls))
	copy(out, p.calls)

	return out
}

func (p *MockProvider) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, req)

	if len(p.responses) == 0 {
		return CompletionResponse{
			Content:          "{}",
			PromptTokens:     mockPromptTokens,
			CompletionTokens: mockCompletionTokens,
			Reached:          true,
		}, nil
	}

	next := p.responses[0]
	p.responses = p.responses[1:]

	return CompletionResponse{
		Content:          next.Content,
		PromptTokens:     next.PromptTokens,
		CompletionTokens: next.CompletionTokens,
		Reached:          next.Reached,
	}, next.Err
}

const (
	mockPromptTokens     = 10
	mockCompletionTokens = 5
)

var _ Provider = (*MockProvider)(nil)
