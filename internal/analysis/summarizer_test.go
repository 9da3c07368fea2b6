package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hujra/internal/config"
	"hujra/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var sample = domain.Student{
	ID:                    "s1",
	FullName:              "Ahmad",
	CurrentBooks:          []domain.BookProgress{{Name: "Nahw"}, {Name: "Sarf"}},
	FamilyFinancialStatus: "poor",
	HealthStatus:          "asthma",
}

func cfgFor(url string) config.AnalysisConfig {
	return config.AnalysisConfig{
		Enabled:     true,
		BaseURL:     url,
		APIKey:      "secret",
		Model:       "test-model",
		Timeout:     2 * time.Second,
		Placeholder: "unavailable",
	}
}

func TestSummarizeReturnsModelText(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Doing well.  "}}]}`))
	}))
	defer srv.Close()

	s := NewHTTPSummarizer(cfgFor(srv.URL+"/"), nil)
	assert.Equal(t, "Doing well.", s.Summarize(context.Background(), sample))
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "Nahw, Sarf")
	assert.Contains(t, got.Messages[0].Content, "Ahmad")
}

func TestSummarizeFallsBackToPlaceholder(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"bad json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{`))
		},
		"no choices": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		},
		"empty text": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" "}}]}`))
		},
		"api error": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error":{"message":"quota"}}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			core, logs := observer.New(zap.WarnLevel)
			s := NewHTTPSummarizer(cfgFor(srv.URL), zap.New(core))
			assert.Equal(t, "unavailable", s.Summarize(context.Background(), sample))
			assert.Equal(t, 1, logs.FilterMessage("analysis unavailable").Len())
		})
	}
}

func TestSummarizeTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	s := NewHTTPSummarizer(cfgFor(url), nil)
	assert.Equal(t, "unavailable", s.Summarize(context.Background(), sample))
}

func TestSummarizeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := cfgFor(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	s := NewHTTPSummarizer(cfg, nil)
	assert.Equal(t, "unavailable", s.Summarize(context.Background(), sample))
}

func TestSummarizeRateLimited(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	cfg := cfgFor(srv.URL)
	cfg.RatePerMinute = 1
	s := NewHTTPSummarizer(cfg, nil)
	assert.Equal(t, "ok", s.Summarize(context.Background(), sample))
	assert.Equal(t, "unavailable", s.Summarize(context.Background(), sample))
	assert.Equal(t, 1, calls)
}

func TestNewSelectsImplementation(t *testing.T) {
	s := New(config.AnalysisConfig{Placeholder: "off"}, nil)
	assert.IsType(t, Disabled{}, s)
	assert.Equal(t, "off", s.Summarize(context.Background(), sample))
	assert.Equal(t, DefaultPlaceholder, Disabled{}.Summarize(context.Background(), sample))

	s = New(cfgFor("http://example.invalid"), zap.NewNop())
	assert.IsType(t, &HTTPSummarizer{}, s)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(sample)
	assert.Contains(t, p, "Name: Ahmad")
	assert.Contains(t, p, "Books: Nahw, Sarf")
	assert.Contains(t, p, "Financial status: poor")
	assert.Contains(t, p, "Health status: asthma")
}
