package llm

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/raine/reellytics-gateway/internal/apiclient"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  plain answer \n", "plain answer"},
		{"```\nfenced\n```", "fenced"},
		{"```text\nfenced with lang\n```", "fenced with lang"},
		{"```inline```", "inline"},
		{"uses `code` inside", "uses `code` inside"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanText(tt.in), tt.in)
	}
}

func TestDescribeMetrics(t *testing.T) {
	assert.Equal(t, "No metrics were provided.", describeMetrics(nil))

	got := describeMetrics(&apiclient.Metrics{
		Followers:    1200,
		Views:        1000,
		Likes:        80,
		Comments:     10,
		Shares:       5,
		Saves:        5,
		VideoLength:  30,
		AvgWatchTime: 15,
	})
	assert.Contains(t, got, "- followers: 1200")
	assert.Contains(t, got, "- engagement rate: 10.00%")
	assert.Contains(t, got, "- watch-through: 50%")

	noViews := describeMetrics(&apiclient.Metrics{Followers: 10})
	assert.NotContains(t, noViews, "engagement rate")
	assert.NotContains(t, noViews, "watch-through")
}

func TestBuildContents(t *testing.T) {
	var history []Turn
	for i := 0; i < maxHistoryTurns+5; i++ {
		history = append(history, Turn{FromUser: i%2 == 0, Text: fmt.Sprintf("turn %d", i)})
	}

	contents := buildContents(ChatInput{Query: "what should I post next?", History: history})
	require.Len(t, contents, maxHistoryTurns+1)

	assert.Equal(t, "turn 5", contents[0].Parts[0].Text)
	assert.Equal(t, genai.RoleModel, contents[0].Role)
	assert.Equal(t, genai.RoleUser, contents[1].Role)

	last := contents[len(contents)-1]
	assert.Equal(t, genai.RoleUser, last.Role)
	assert.True(t, strings.HasSuffix(last.Parts[0].Text, "Question: what should I post next?"))
	assert.True(t, strings.HasPrefix(last.Parts[0].Text, "Reel metrics:"))
}

func TestCalculateGeminiCost(t *testing.T) {
	assert.InDelta(t, 0.3+2.5, calculateGeminiCost(1_000_000, 1_000_000, geminiInputPricePerMillion, geminiOutputPricePerMillion), 1e-9)
	assert.Zero(t, calculateGeminiCost(0, 0, 1, 1))
}

func TestEngagementRate(t *testing.T) {
	assert.Equal(t, 5.0, EngagementRate(5, 100))
	assert.Zero(t, EngagementRate(5, 0))
}

func TestStaticResponder(t *testing.T) {
	var r Responder = StaticResponder{}

	reply, err := r.Reply(context.Background(), ChatInput{Query: "hi"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Your question: hi")

	analysis, err := r.Analyze(context.Background(), apiclient.AnalyzeRequest{Followers: 1, Views: 2, Likes: 3})
	require.NoError(t, err)
	assert.Equal(t, "Followers: 1, Views: 2, Likes: 3", analysis.Text)
}
