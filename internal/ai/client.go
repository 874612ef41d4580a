// Package ai adapts an OpenAI-compatible provider to the llm types used by
// the rest of the service.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"docchat/internal/llm"
	"docchat/internal/model"
)

var (
	ErrMissingAPIKey = errors.New("llm api key is not configured")
	ErrEmptyResponse = errors.New("llm returned no choices")
)

type Config struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Temperature    float32
	Timeout        time.Duration
}

type Client struct {
	api *openai.Client
	cfg Config
}

// NewClient builds the provider client. It fails when no API key is set so
// that a misconfigured process stops at startup.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		api: openai.NewClientWithConfig(apiCfg),
		cfg: cfg,
	}, nil
}

func (c *Client) ChatModel() string {
	return c.cfg.ChatModel
}

func (c *Client) Temperature() float32 {
	return c.cfg.Temperature
}

// Generate runs one chat completion step.
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	messages, err := ToOpenAIMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = ToOpenAITools(req.Tools)
		if req.ToolChoice != "" {
			apiReq.ToolChoice = string(req.ToolChoice)
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return &llm.Completion{
		Message: FromOpenAIMessage(resp.Choices[0].Message),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model: resp.Model,
	}, nil
}

// EmbedTexts embeds texts in one request and returns vectors in input order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(c.cfg.EmbeddingModel),
		Dimensions: model.EmbeddingDimension,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, 0, len(data))
	for _, item := range data {
		out = append(out, item.Embedding)
	}
	return out, nil
}

// GenerateMetadata asks for a title, description and summary as structured
// JSON output.
func (c *Client) GenerateMetadata(ctx context.Context, sample string) (llm.DocumentMetadata, error) {
	schema := metadataSchema()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: metadataSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Analyze this document and provide title, description, and summary:\n\n" + sample},
		},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "document_metadata",
				Schema: &schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return llm.DocumentMetadata{}, fmt.Errorf("metadata completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.DocumentMetadata{}, ErrEmptyResponse
	}

	var meta llm.DocumentMetadata
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &meta); err != nil {
		return llm.DocumentMetadata{}, fmt.Errorf("parse metadata json failed: %w", err)
	}
	return meta, nil
}

// GenerateTitle returns the raw model suggestion for a chat title.
func (c *Client) GenerateTitle(ctx context.Context, content string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		Temperature: titleTemperature,
		MaxTokens:   titleMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("title completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
