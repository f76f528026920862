// Package llm generates chat answers about reel analytics.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/raine/reellytics-gateway/internal/apiclient"
)

const (
	geminiModel     = "gemini-2.5-flash"
	geminiLiteModel = "gemini-2.5-flash-lite"
)

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion      = 0.30
	geminiOutputPricePerMillion     = 2.50
	geminiLiteInputPricePerMillion  = 0.10
	geminiLiteOutputPricePerMillion = 0.40
)

// maxHistoryTurns bounds how much earlier conversation is sent with a question.
const maxHistoryTurns = 20

const systemPrompt = `
	You are Reellytics, an assistant that helps creators understand how their
	short-form videos (reels) perform.

	Answer in the language the user writes in. Be concrete: refer to the numbers
	you were given, point out what is strong or weak, and suggest at most three
	actionable improvements. If no metrics were provided, answer the question
	generally and mention which metrics would help.`

const chatPrompt = `
	Reel metrics:
	%s

	Question: %s`

const analyzePrompt = `
	Give a two sentence summary of this account snapshot for the creator.

	- followers: %d
	- views: %d
	- likes: %d
	- like rate: %.2f%%

	Respond with the summary only, no markdown.`

// GeminiResponder uses Google's Gemini API to answer chat questions.
type GeminiResponder struct {
	client *genai.Client
}

// NewGeminiResponder creates a Gemini-based responder authenticated with apiKey.
func NewGeminiResponder(ctx context.Context, apiKey string) (*GeminiResponder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiResponder{client: client}, nil
}

func (g *GeminiResponder) Reply(ctx context.Context, in ChatInput) (*Result, error) {
	contents := buildContents(in)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(formatPrompt(systemPrompt), genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, geminiModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini chat reply failed: %w", err)
	}

	text, err := responseText(result)
	if err != nil {
		return nil, err
	}

	usage := usageOf(result, geminiInputPricePerMillion, geminiOutputPricePerMillion)
	log.Info().
		Str("model", geminiModel).
		Int("historyTurns", len(contents)-1).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Msg("chat reply llm call")

	return &Result{Text: text, Usage: usage}, nil
}

func (g *GeminiResponder) Analyze(ctx context.Context, req apiclient.AnalyzeRequest) (*Result, error) {
	prompt := formatPrompt(analyzePrompt, req.Followers, req.Views, req.Likes, EngagementRate(req.Likes, req.Views))

	result, err := g.client.Models.GenerateContent(ctx, geminiLiteModel, []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini analyze failed: %w", err)
	}

	text, err := responseText(result)
	if err != nil {
		return nil, err
	}

	usage := usageOf(result, geminiLiteInputPricePerMillion, geminiLiteOutputPricePerMillion)
	log.Info().
		Str("model", geminiLiteModel).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Msg("analyze llm call")

	return &Result{Text: text, Usage: usage}, nil
}

// buildContents turns the conversation into Gemini contents, oldest first,
// ending with the current question.
func buildContents(in ChatInput) []*genai.Content {
	history := in.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		var role genai.Role = genai.RoleModel
		if turn.FromUser {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}

	prompt := formatPrompt(chatPrompt, describeMetrics(in.Metrics), in.Query)
	return append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
}

func responseText(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	return cleanText(result.Text()), nil
}

// cleanText strips a markdown code fence the model occasionally wraps
// plain answers in.
func cleanText(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") && strings.HasSuffix(text, "```") {
		text = strings.TrimSuffix(text, "```")
		if i := strings.Index(text, "\n"); i != -1 {
			text = text[i+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
	}
	return strings.TrimSpace(text)
}

func usageOf(result *genai.GenerateContentResponse, inputPrice, outputPrice float64) Usage {
	usage := Usage{}
	if result.UsageMetadata != nil {
		usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		usage.CostUSD = calculateGeminiCost(usage.InputTokens, usage.OutputTokens, inputPrice, outputPrice)
	}
	return usage
}

func calculateGeminiCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000 * outputPrice
	return inputCost + outputCost
}
