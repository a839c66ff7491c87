// Package rca runs LLM-backed root cause analysis over the forensic
// context of an anomalous trace.
package rca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// ErrNoAPIKey is returned by NewAnalyzer when no API key is configured.
// Callers are expected to surface the analysis feature as unavailable.
var ErrNoAPIKey = errors.New("gemini api key not configured")

// Result is the structured outcome of one analysis. When the model call or
// response parsing fails, Analyze returns a degraded Result instead of an
// error, so the dashboard always has something to render.
type Result struct {
	RootCause      string   `json:"root_cause"`
	SuggestedFixes []string `json:"suggested_fixes"`
	RiskPrediction string   `json:"risk_prediction"`
	Confidence     float64  `json:"confidence"`
}

// textGenerator abstracts the model call so Analyze can be tested without
// network access.
type textGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Analyzer turns a trace's forensic context into a Result.
type Analyzer struct {
	model  string
	gen    textGenerator
	logger *slog.Logger
}

// Config holds the analyzer settings.
type Config struct {
	APIKey string
	Model  string
}

// NewAnalyzer creates an analyzer backed by the Gemini API. It returns
// ErrNoAPIKey when the key is missing.
func NewAnalyzer(ctx context.Context, config Config, logger *slog.Logger) (*Analyzer, error) {
	if config.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Analyzer{
		model:  config.Model,
		gen:    &geminiGenerator{client: client, model: config.Model},
		logger: logger,
	}, nil
}

// Analyze asks the model why the trace failed or was slow. traceData is the
// forensic context supplied by the caller, embedded verbatim in the prompt.
func (a *Analyzer) Analyze(ctx context.Context, traceID string, traceData json.RawMessage) Result {
	prompt := buildPrompt(traceID, traceData)

	a.logger.DebugContext(ctx, "Sending RCA prompt to Gemini",
		"model", a.model,
		"trace_id", traceID,
		"prompt_length", len(prompt),
	)

	response, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		a.logger.ErrorContext(ctx, "Gemini query failed", "trace_id", traceID, "error", err)
		return degraded(err)
	}

	result, err := parseResult(response)
	if err != nil {
		a.logger.WarnContext(ctx, "Failed to parse Gemini response",
			"trace_id", traceID,
			"error", err,
			"response", response,
		)
		return degraded(err)
	}

	a.logger.InfoContext(ctx, "RCA complete",
		"trace_id", traceID,
		"confidence", result.Confidence,
	)
	return result
}

func degraded(err error) Result {
	return Result{
		RootCause:      fmt.Sprintf("Analysis failed: %v", err),
		SuggestedFixes: []string{},
		RiskPrediction: "N/A",
		Confidence:     0,
	}
}

func buildPrompt(traceID string, traceData json.RawMessage) string {
	forensic := string(traceData)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, traceData, "", "  "); err == nil {
		forensic = pretty.String()
	}

	var prompt strings.Builder
	prompt.WriteString(fmt.Sprintf("You are an expert SRE. Analyze this anomalous trace ID: %s.\n\n", traceID))
	prompt.WriteString("FORENSIC CONTEXT:\n")
	prompt.WriteString(forensic)
	prompt.WriteString("\n\nMISSION: Identify why this specific request failed or was slow.\n\n")
	prompt.WriteString("FORMAT YOUR RESPONSE AS STRICT JSON:\n")
	prompt.WriteString("{\n")
	prompt.WriteString(`  "root_cause": "brief explanation (max 20 words)",` + "\n")
	prompt.WriteString(`  "suggested_fixes": ["fix 1", "fix 2"],` + "\n")
	prompt.WriteString(`  "risk_prediction": "one-sentence impact if not solved",` + "\n")
	prompt.WriteString(`  "confidence": 0.95` + "\n")
	prompt.WriteString("}\n")
	return prompt.String()
}

// parseResult extracts the JSON payload from the model response. Models
// sometimes wrap JSON in markdown code fences.
func parseResult(response string) (Result, error) {
	jsonStr := response
	if strings.Contains(response, "```json") {
		start := strings.Index(response, "```json") + len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			jsonStr = strings.TrimSpace(response[start : start+end])
		}
	} else if strings.Contains(response, "```") {
		start := strings.Index(response, "```") + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			jsonStr = strings.TrimSpace(response[start : start+end])
		}
	}

	if !strings.HasPrefix(strings.TrimSpace(jsonStr), "{") {
		start := strings.Index(jsonStr, "{")
		end := strings.LastIndex(jsonStr, "}")
		if start != -1 && end > start {
			jsonStr = jsonStr[start : end+1]
		}
	}

	var result Result
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return Result{}, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if result.SuggestedFixes == nil {
		result.SuggestedFixes = []string{}
	}
	return result, nil
}

// geminiGenerator sends prompts over a fresh chat session per call.
type geminiGenerator struct {
	client *genai.Client
	model  string
}

func (g *geminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	chat, err := g.client.Chats.Create(ctx, g.model, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create chat: %w", err)
	}

	result, err := chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if len(result.Candidates) > 0 && len(result.Candidates[0].Content.Parts) > 0 {
		part := result.Candidates[0].Content.Parts[0]
		if part.Text != "" {
			return part.Text, nil
		}
	}
	return "", errors.New("no response from Gemini")
}
