// Package analysis produces short free-text assessments of a student through
// an OpenAI-compatible chat completions endpoint. Failures never propagate:
// the caller always gets either the model's text or a placeholder.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hujra/internal/config"
	"hujra/pkg/domain"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultPlaceholder is returned when no placeholder is configured.
const DefaultPlaceholder = "Analysis is unavailable right now. Please try again later."

// Summarizer turns a student record into a short assessment.
type Summarizer interface {
	Summarize(ctx context.Context, student domain.Student) string
}

// Disabled always answers with the placeholder.
type Disabled struct {
	Placeholder string
}

// Summarize implements Summarizer.
func (d Disabled) Summarize(context.Context, domain.Student) string {
	if d.Placeholder == "" {
		return DefaultPlaceholder
	}
	return d.Placeholder
}

// New returns an HTTPSummarizer when analysis is enabled and Disabled otherwise.
func New(cfg config.AnalysisConfig, logger *zap.Logger) Summarizer {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return Disabled{Placeholder: cfg.Placeholder}
	}
	return NewHTTPSummarizer(cfg, logger)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// HTTPSummarizer calls {baseURL}/chat/completions.
type HTTPSummarizer struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	placeholder string
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// HTTPOption customises an HTTPSummarizer.
type HTTPOption func(*HTTPSummarizer)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSummarizer) {
		if c != nil {
			s.client = c
		}
	}
}

// NewHTTPSummarizer builds a summarizer from configuration.
func NewHTTPSummarizer(cfg config.AnalysisConfig, logger *zap.Logger, opts ...HTTPOption) *HTTPSummarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	s := &HTTPSummarizer{
		client:      &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		placeholder: placeholder,
		logger:      logger.Named("analysis"),
	}
	if cfg.RatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize implements Summarizer. Any failure is logged and answered with
// the placeholder.
func (s *HTTPSummarizer) Summarize(ctx context.Context, student domain.Student) string {
	text, err := s.complete(ctx, BuildPrompt(student))
	if err != nil {
		s.logger.Warn("analysis unavailable", zap.String("student_id", student.ID), zap.Error(err))
		return s.placeholder
	}
	return text
}

func (s *HTTPSummarizer) complete(ctx context.Context, prompt string) (string, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return "", errors.New("rate limited")
	}
	body, err := json.Marshal(chatCompletionRequest{
		Model:    s.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "call completions")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Errorf("completions status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode completions")
	}
	if out.Error != nil {
		return "", errors.Errorf("completions error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completions returned no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("completions returned empty text")
	}
	return text, nil
}

// BuildPrompt renders the assessment request for one student.
func BuildPrompt(student domain.Student) string {
	books := make([]string, 0, len(student.CurrentBooks))
	for _, b := range student.CurrentBooks {
		books = append(books, b.Name)
	}
	var sb strings.Builder
	sb.WriteString("Write a short assessment of this hujra student (faqe):\n")
	fmt.Fprintf(&sb, "Name: %s\n", student.FullName)
	fmt.Fprintf(&sb, "Books: %s\n", strings.Join(books, ", "))
	fmt.Fprintf(&sb, "Financial status: %s\n", student.FamilyFinancialStatus)
	fmt.Fprintf(&sb, "Health status: %s\n", student.HealthStatus)
	sb.WriteString("Suggest how the student could be supported further, academically and socially.")
	return sb.String()
}
