// Package metadata generates short descriptive metadata for ingested documents.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"

	"github.com/bull/respondo-rag/internal/upstream"
)

// DefaultMaxTokens is the maximum content length before truncation (in tokens).
const DefaultMaxTokens = 4000

// DefaultModel is the chat model used for summaries.
const DefaultModel = "gpt-4o-mini"

// ErrEmptyResponse is returned when the completion has no choices.
var ErrEmptyResponse = errors.New("completion returned no choices")

// DocumentMetadata contains LLM-generated metadata for a document.
type DocumentMetadata struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Generator produces document summaries with a chat completion model.
type Generator struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates a metadata generator with the given OpenAI client.
// An empty model selects DefaultModel; maxTokens <= 0 selects DefaultMaxTokens.
func NewGenerator(client *openai.Client, model string, maxTokens int, logger *slog.Logger) *Generator {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Summarize produces a one-sentence summary and a keyword list for a document.
func (g *Generator) Summarize(ctx context.Context, name, content string) (*DocumentMetadata, error) {
	truncated := g.truncateContent(content)

	prompt := fmt.Sprintf(`Summarize this business document for a customer support knowledge base.
Provide:
1. A one-sentence summary of what the document covers
2. Up to 8 keywords a customer might use when asking about it

Document name: %s

Document content:
%s

Respond in JSON format:
{"summary": "One sentence description", "keywords": ["keyword1", "keyword2"]}`, name, truncated)

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(g.model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", upstream.Classify(err))
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return parseMetadata(resp.Choices[0].Message.Content)
}

func parseMetadata(raw string) (*DocumentMetadata, error) {
	var metadata DocumentMetadata
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	metadata.Summary = strings.TrimSpace(metadata.Summary)
	if metadata.Keywords == nil {
		metadata.Keywords = []string{}
	}
	return &metadata, nil
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token.
func (g *Generator) truncateContent(content string) string {
	maxChars := g.maxTokens * 4

	if len(content) <= maxChars {
		return content
	}

	g.logger.Warn("Truncating content for summary",
		"from", len(content), "to", maxChars, "estimated_tokens", g.maxTokens)

	cut := content[:maxChars]
	for !utf8.ValidString(cut) && len(cut) > 0 {
		cut = cut[:len(cut)-1]
	}
	return cut
}
