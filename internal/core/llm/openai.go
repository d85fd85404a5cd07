package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	apperrors "github.com/avolkov/reelpipe/internal/core/errors"
)

const (
	providerOpenAI = "openai"

	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = 1 * time.Minute
	rateLimiterBurst        = 5

	httpStatusTooManyRequests = 429
	httpStatusServerError     = 500
)

var _ Provider = (*openaiProvider)(nil)

type openaiProvider struct {
	client      *openai.Client
	logger      *zerolog.Logger
	rateLimiter *rate.Limiter

	// Circuit breaker state
	consecutiveFailures int
	circuitOpenUntil    time.Time
	mu                  sync.Mutex
}

// NewOpenAIProvider creates the OpenAI-backed provider with rate limiting
// and a circuit breaker.
func NewOpenAIProvider(apiKey string, rps int, logger *zerolog.Logger) Provider {
	return &openaiProvider{
		client:      openai.NewClient(apiKey),
		logger:      logger,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(rps)), rateLimiterBurst),
	}
}

func (p *openaiProvider) Name() string {
	return providerOpenAI
}

func (p *openaiProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := p.checkCircuit(); err != nil {
		return CompletionResponse{}, err
	}

	if err := p.rateLimiter.Wait(ctx); err != nil {
		return CompletionResponse{}, fmt.Errorf("rate limiter wait: %w", err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		p.recordFailure()

		return classifyError(err)
	}

	p.recordSuccess()

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return CompletionResponse{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			Reached:          true,
		}, apperrors.ErrEmptyResponse
	}

	return CompletionResponse{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Reached:          true,
	}, nil
}

// classifyError maps transport and API errors onto the pipeline's error
// taxonomy. API errors mean the request reached the provider and may
// have been billed.
func classifyError(err error) (CompletionResponse, error) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == httpStatusTooManyRequests || apiErr.HTTPStatusCode >= httpStatusServerError {
			return CompletionResponse{Reached: true}, fmt.Errorf("%w: %v", apperrors.ErrModelUnavailable, err)
		}

		return CompletionResponse{Reached: true}, fmt.Errorf("openai api error: %w", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return CompletionResponse{}, fmt.Errorf("%w: %v", apperrors.ErrModelUnavailable, err)
	}

	return CompletionResponse{}, fmt.Errorf("%w: %v", apperrors.ErrModelUnavailable, err)
}

func (p *openaiProvider) checkCircuit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Now().Before(p.circuitOpenUntil) {
		return fmt.Errorf("%w: circuit open until %v", apperrors.ErrModelUnavailable, p.circuitOpenUntil)
	}

	return nil
}

func (p *openaiProvider) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveFailures = 0
}

func (p *openaiProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveFailures++
	if p.consecutiveFailures >= circuitBreakerThreshold {
		p.circuitOpenUntil = time.Now().Add(circuitBreakerTimeout)
		p.logger.Warn().
			Int("consecutive_failures", p.consecutiveFailures).
			Time("open_until", p.circuitOpenUntil).
			Msg("Circuit breaker opened")
	}
}
