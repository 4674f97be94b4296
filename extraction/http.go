package extraction

import (
	"context"
	"fmt"
	"net/http"

	"github.com/agentuity/go-recommend/api"
	"github.com/agentuity/go-recommend/logger"
	"github.com/agentuity/go-recommend/resilience"
	cstr "github.com/agentuity/go-recommend/string"
	"github.com/cockroachdb/errors"
)

const (
	DefaultURL         = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel       = "gpt-3.5-turbo"
	DefaultMaxTokens   = 100
	DefaultTemperature = 0.3
)

const promptTemplate = `Extract music-related keywords from this user message. Focus on:
- Moods and emotions (happy, sad, energetic, calm, romantic, etc.)
- Music genres (rock, pop, jazz, classical, electronic, etc.)
- Activities (workout, study, party, sleep, driving, etc.)
- Time periods (80s, 90s, 2000s, etc.)
- Seasons or occasions (summer, winter, christmas, etc.)

User message: %q

Return only the keywords as a comma-separated list, no explanations.
Maximum %d keywords.`

// ErrNoKeywords is returned when a 2xx response carries no usable keywords.
var ErrNoKeywords = errors.New("extraction response had no keywords")

type HTTPConfig struct {
	URL         string
	Model       string
	APIKey      cstr.MaskedString
	MaxTokens   int
	Temperature float64
}

// HTTPExtractor asks a chat-completion endpoint for keywords.
type HTTPExtractor struct {
	client *api.Client
	config HTTPConfig
	logger logger.Logger
}

var _ Extractor = (*HTTPExtractor)(nil)

func NewHTTPExtractor(client *api.Client, log logger.Logger, config HTTPConfig) *HTTPExtractor {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature <= 0 {
		config.Temperature = DefaultTemperature
	}
	return &HTTPExtractor{client: client, config: config, logger: log.WithPrefix("[extraction]")}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, text string) ([]string, error) {
	req := chatRequest{
		Model:       e.config.Model,
		Messages:    []chatMessage{{Role: "user", Content: fmt.Sprintf(promptTemplate, text, MaxKeywords)}},
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	}
	var resp chatResponse
	budget, err := e.client.Do(ctx, api.Request{
		Method:      http.MethodPost,
		URL:         e.config.URL,
		JSON:        req,
		BearerToken: e.config.APIKey.Text(),
		Header:      http.Header{"X-Title": {"go-recommend"}},
	}, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "extract keywords")
	}
	if len(resp.Choices) == 0 {
		return nil, resilience.Permanent(errors.Wrap(ErrNoKeywords, "no choices"))
	}
	keywords := ParseKeywords(resp.Choices[0].Message.Content, MaxKeywords)
	if len(keywords) == 0 {
		return nil, resilience.Permanent(ErrNoKeywords)
	}
	e.logger.Debug("extracted %d keywords in %d attempt(s)", len(keywords), budget.Attempts)
	return keywords, nil
}
