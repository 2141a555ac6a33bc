package queryrouter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tansive/modhost/internal/common/httpclient"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	SourceLocal = "local"
	SourceCloud = "cloud"
)

// Strategy is one inference tier.
type Strategy interface {
	Source() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Tier bounds a Strategy with its own timeout.
type Tier struct {
	Strategy Strategy
	Timeout  time.Duration
}

// LocalStrategy talks to Ollama through its OpenAI compatible API.
type LocalStrategy struct {
	client openai.Client
	model  string
}

func NewLocalStrategy(baseURL, model string) *LocalStrategy {
	client := openai.NewClient(
		option.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/v1/"),
		option.WithAPIKey("ollama"),
		option.WithMaxRetries(0),
	)
	return &LocalStrategy{client: client, model: model}
}

func (l *LocalStrategy) Source() string { return SourceLocal }

func (l *LocalStrategy) Complete(ctx context.Context, prompt string) (string, error) {
	completion, err := l.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(l.model),
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("local model returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// CloudStrategy posts the prompt to the cloud gateway's completion endpoint.
type CloudStrategy struct {
	client *httpclient.Client
}

func NewCloudStrategy(baseURL, apiKey string) *CloudStrategy {
	var opts []httpclient.Option
	if apiKey != "" {
		opts = append(opts, httpclient.WithAPIKey(apiKey))
	}
	return &CloudStrategy{client: httpclient.NewClient(baseURL, opts...)}
}

func (c *CloudStrategy) Source() string { return SourceCloud }

func (c *CloudStrategy) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := sjson.SetBytes(nil, "prompt", prompt)
	if err != nil {
		return "", err
	}
	rsp, err := c.client.PostJSON(ctx, "/openai", body)
	if err != nil {
		return "", err
	}
	text := gjson.GetBytes(rsp, "choices.0.text")
	if !text.Exists() {
		return "", fmt.Errorf("cloud response has no choices")
	}
	return text.String(), nil
}
