package assistant

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIProvider talks to any OpenAI-compatible chat-completions endpoint
// over raw HTTP.
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client
	Logger  *logrus.Logger
}

func NewOpenAIProvider(apiKey, model string, logger *logrus.Logger) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		BaseURL: defaultOpenAIBaseURL,
		APIKey:  apiKey,
		Model:   model,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		Logger:  logger,
	}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type completionsResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the system prompt and question as a two-message conversation
// and returns the first choice's text.
func (p *OpenAIProvider) Complete(ctx context.Context, systemPrompt, question string) (string, error) {
	payload, err := json.Marshal(completionsRequest{
		Model: p.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: question},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewBuffer(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	res, err := p.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}

	var out completionsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("completions: unexpected response: %s", string(body))
	}
	if res.StatusCode != http.StatusOK {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("completions: %s", out.Error.Message)
		}
		return "", fmt.Errorf("completions: status %d: %s", res.StatusCode, string(body))
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completions: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}
