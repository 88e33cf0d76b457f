package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/poloai/polochat/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the LLM interface for interacting
// with OpenAI's language models.
type OpenAI struct {
	model        string
	systemPrompt string

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance with the specified API key, model
// name, and system prompt.
func NewOpenAI(apiKey, model, systemPrompt string, logger *slog.Logger) OpenAI {
	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		client:       goopenai.NewClient(apiKey),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

// Chat is a wrapper around the OpenAI chat completion API. The returned
// iterator yields response chunks and potential errors; the context cancels
// the in-flight request.
func (o OpenAI) Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]goopenai.ChatCompletionMessage, len(messages))
		for i, msg := range messages {
			msgs[i] = goopenai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			}
		}
		msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: o.systemPrompt,
		})

		req := goopenai.ChatCompletionRequest{
			Model:       o.model,
			Messages:    msgs,
			Stream:      true,
			Temperature: 0.7,
			TopP:        0.9,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if content := response.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}
	}
}

// Model returns the configured model name.
func (o OpenAI) Model() string {
	return o.model
}
