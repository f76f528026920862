package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/lithammer/dedent"

	"github.com/raine/reellytics-gateway/internal/apiclient"
)

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// Turn is one earlier message of the conversation.
type Turn struct {
	FromUser bool
	Text     string
}

// ChatInput is what a reply is generated from.
type ChatInput struct {
	Query   string
	History []Turn
	Metrics *apiclient.Metrics
}

// Result is a generated answer.
type Result struct {
	Text  string
	Usage Usage
}

// Responder answers chat questions about reel performance.
type Responder interface {
	Reply(ctx context.Context, in ChatInput) (*Result, error)
	Analyze(ctx context.Context, req apiclient.AnalyzeRequest) (*Result, error)
}

// StaticResponder answers without a model. Used when no LLM is configured.
type StaticResponder struct{}

func (StaticResponder) Reply(ctx context.Context, in ChatInput) (*Result, error) {
	return &Result{Text: fmt.Sprintf("Your question: %s\nThe analytics data was processed successfully.", in.Query)}, nil
}

func (StaticResponder) Analyze(ctx context.Context, req apiclient.AnalyzeRequest) (*Result, error) {
	return &Result{Text: fmt.Sprintf("Followers: %d, Views: %d, Likes: %d", req.Followers, req.Views, req.Likes)}, nil
}

func formatPrompt(text string, a ...any) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(text)), a...)
}

// describeMetrics renders metrics as a bullet list for a prompt. Derived rates
// are included when their denominator is known.
func describeMetrics(m *apiclient.Metrics) string {
	if m == nil {
		return "No metrics were provided."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "- followers: %d\n", m.Followers)
	fmt.Fprintf(&b, "- hours since posting: %.1f\n", m.ElapsedTime)
	fmt.Fprintf(&b, "- video length (s): %.1f\n", m.VideoLength)
	fmt.Fprintf(&b, "- average watch time (s): %.1f\n", m.AvgWatchTime)
	fmt.Fprintf(&b, "- views: %d\n", m.Views)
	fmt.Fprintf(&b, "- likes: %d\n", m.Likes)
	fmt.Fprintf(&b, "- comments: %d\n", m.Comments)
	fmt.Fprintf(&b, "- shares: %d\n", m.Shares)
	fmt.Fprintf(&b, "- saves: %d\n", m.Saves)
	fmt.Fprintf(&b, "- new follows: %d", m.Follows)

	if m.Views > 0 {
		interactions := m.Likes + m.Comments + m.Shares + m.Saves
		fmt.Fprintf(&b, "\n- engagement rate: %.2f%%", EngagementRate(interactions, m.Views))
	}
	if m.VideoLength > 0 {
		fmt.Fprintf(&b, "\n- watch-through: %.0f%%", m.AvgWatchTime/m.VideoLength*100)
	}
	return b.String()
}

// EngagementRate returns interactions per view as a percentage.
func EngagementRate(interactions, views int) float64 {
	if views <= 0 {
		return 0
	}
	return float64(interactions) / float64(views) * 100
}
