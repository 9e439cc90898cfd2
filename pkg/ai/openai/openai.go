package openai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/storyhop/storyhop/pkg/ai"
)

// ExtractAIClient talks to an OpenAI-compatible chat endpoint for graph
// extraction. Local gateways are supported through a custom base URL.
type ExtractAIClient struct {
	model   string
	baseURL string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	chatClient *openai.Client
}

// NewExtractAIClientParams configures an ExtractAIClient. Model is the chat
// model used for both plain and structured completions. BaseURL may be empty
// for the default OpenAI endpoint.
type NewExtractAIClientParams struct {
	Model   string
	BaseURL string
	APIKey  string
}

// NewExtractAIClient creates a new client for the configured endpoint.
func NewExtractAIClient(params NewExtractAIClientParams) (*ExtractAIClient, error) {
	if params.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	options := []option.RequestOption{
		option.WithAPIKey(params.APIKey),
	}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	client := openai.NewClient(options...)

	return &ExtractAIClient{
		model:      params.Model,
		baseURL:    params.BaseURL,
		chatClient: &client,
	}, nil
}

// GenerateCompletion sends a single-turn prompt to the chat model and
// returns the generated completion as plain text.
func (c *ExtractAIClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := []openai.ChatCompletionMessageParamUnion{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}

	start := time.Now()
	response, err := c.chatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return "", err
	}

	c.recordUsage(response, time.Since(start))

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response from model")
	}
	return response.Choices[0].Message.Content, nil
}

// GenerateCompletionWithFormat sends a prompt and unmarshals the response
// into out, using a JSON schema derived from out's type to enforce structure.
func (c *ExtractAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	schema := ai.GenerateSchema(out)
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}

	options := ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := []openai.ChatCompletionMessageParamUnion{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(options.Model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}

	start := time.Now()
	response, err := c.chatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return err
	}

	c.recordUsage(response, time.Since(start))

	if len(response.Choices) == 0 {
		return fmt.Errorf("no choices in response from model")
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason)
	}
	return ai.UnmarshalFlexible(message, out)
}

func (c *ExtractAIClient) recordUsage(response *openai.ChatCompletion, elapsed time.Duration) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += int(response.Usage.PromptTokens)
	c.metrics.OutputTokens += int(response.Usage.CompletionTokens)
	c.metrics.TotalTokens += int(response.Usage.TotalTokens)
	c.metrics.DurationMs += elapsed.Milliseconds()
}

// ResetMetrics zeroes the accumulated usage counters.
func (c *ExtractAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = ai.ModelMetrics{}
}

// GetMetrics returns the usage accumulated since the last reset.
func (c *ExtractAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}
