// Package suggest produces resolution hints for field conflicts using the
// Anthropic API. Suggestions are advisory text; they never resolve a
// conflict on their own.
package suggest

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	isync "issuesync/internal/sync"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Advisor requests conflict resolution suggestions.
type Advisor struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates an Advisor. The API key comes from the ANTHROPIC_API_KEY
// environment variable when apiKey is empty.
func New(apiKey, model string) *Advisor {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = DefaultModel
	}
	return &Advisor{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// Suggest returns a short recommendation for resolving the given conflict.
func (a *Advisor) Suggest(ctx context.Context, c isync.Conflict) (string, error) {
	prompt := buildPrompt(c)

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 300,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("suggestion request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("empty suggestion response")
	}
	return text, nil
}

func buildPrompt(c isync.Conflict) string {
	return fmt.Sprintf(`Two versions of an issue field diverged during synchronization.

Issue key: %s
Field: %s
Local value (edited %s): %v
Remote value (edited %s): %v

In two sentences or fewer, recommend which value to keep and why. If the
values should be merged, say how.`,
		c.Key, c.Field,
		c.LocalUpdatedAt.Format("2006-01-02 15:04"), c.LocalValue,
		c.RemoteUpdatedAt.Format("2006-01-02 15:04"), c.RemoteValue)
}
