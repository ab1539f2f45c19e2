// Package summarize produces short post-call outcome summaries for the
// clinic's call log.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"clinicvoice_backend/platform/config"

	"google.golang.org/genai"
)

// Summarizer turns a call transcript into a two-sentence outcome summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript, providerSummary string) (string, error)
}

const defaultModel = "gemini-2.0-flash"

const maxTranscriptChars = 24000

// GeminiSummarizer summarizes with the Gemini API.
type GeminiSummarizer struct {
	client *genai.Client
	model  string
}

// NewGeminiSummarizer creates a Gemini-backed summarizer, or nil when the
// API key is not configured.
func NewGeminiSummarizer(ctx context.Context, cfg config.SummarizerConfig) (*GeminiSummarizer, error) {
	if !cfg.IsSummarizerEnabled() || cfg.GetGeminiAPIKey() == "" {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := cfg.GetGeminiModel()
	if model == "" {
		model = defaultModel
	}

	return &GeminiSummarizer{client: client, model: model}, nil
}

func (s *GeminiSummarizer) Summarize(ctx context.Context, transcript, providerSummary string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("summarizer not configured")
	}

	prompt := buildPrompt(transcript, providerSummary)
	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty summary response")
	}
	return text, nil
}

func buildPrompt(transcript, providerSummary string) string {
	if len(transcript) > maxTranscriptChars {
		transcript = transcript[:maxTranscriptChars]
	}

	var b strings.Builder
	b.WriteString("Summarize this clinic phone call in at most two sentences. ")
	b.WriteString("State what the caller wanted and the outcome (booked, not booked, follow-up needed). ")
	b.WriteString("No preamble, no personal data beyond the caller's first name.\n\n")
	if providerSummary != "" {
		b.WriteString("Provider's own summary:\n")
		b.WriteString(providerSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}

// Produce runs the model summarizer when one is configured and falls back to
// the heuristic when it is absent or errors.
func Produce(ctx context.Context, model Summarizer, transcript, providerSummary string) (string, error) {
	if model != nil {
		if summary, err := model.Summarize(ctx, transcript, providerSummary); err == nil {
			return summary, nil
		}
	}
	return HeuristicSummarizer{}.Summarize(ctx, transcript, providerSummary)
}

// HeuristicSummarizer is the no-API fallback: it prefers the provider's own
// summary and otherwise trims the transcript's opening exchange.
type HeuristicSummarizer struct{}

func (HeuristicSummarizer) Summarize(_ context.Context, transcript, providerSummary string) (string, error) {
	if s := strings.TrimSpace(providerSummary); s != "" {
		return s, nil
	}

	lines := strings.Split(transcript, "\n")
	var kept []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == 3 {
			break
		}
	}
	if len(kept) == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}

	summary := strings.Join(kept, " ")
	if len(summary) > 280 {
		summary = summary[:277] + "..."
	}
	return summary, nil
}
