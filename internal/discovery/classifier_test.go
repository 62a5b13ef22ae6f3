package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/interaction-discovery-service/internal/llm"
)

func TestClassifierVerdicts(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		relevant bool
	}{
		{name: "plain yes", answer: "yes", relevant: true},
		{name: "short affirmative", answer: "y", relevant: true},
		{name: "yes with whitespace and case", answer: "  Yes \n", relevant: true},
		{name: "plain no", answer: "no", relevant: false},
		{name: "rambling answer fails closed", answer: "Yes, this paper is relevant because it studies creatine.", relevant: false},
		{name: "hedge fails closed", answer: "maybe", relevant: false},
		{name: "empty fails closed", answer: "", relevant: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeChatClient{turns: []chatTurn{textTurn(tt.answer)}}
			classifier := NewClassifier(client, zerolog.Nop(), testMetrics)

			res, err := classifier.Classify(context.Background(), ClassifyRequest{
				TargetVariable: "creatine",
				Title:          "Creatine and muscle strength",
				Abstract:       "A randomized controlled trial.",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.relevant, res.Relevant)
		})
	}
}

func TestClassifierPromptContents(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{textTurn("yes")}}
	classifier := NewClassifier(client, zerolog.Nop(), testMetrics)

	_, err := classifier.Classify(context.Background(), ClassifyRequest{
		TargetVariable: "creatine",
		Title:          "Creatine and muscle strength",
		Abstract:       "A randomized controlled trial of creatine supplementation.",
	})
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	msgs := client.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "relevant to: creatine")
	assert.Contains(t, msgs[0].Content, "intervention study on human substrate")
	assert.Contains(t, msgs[1].Content, "Title: Creatine and muscle strength")
	assert.Contains(t, msgs[1].Content, "Abstract: A randomized controlled trial of creatine supplementation.")
}

func TestClassifierClientError(t *testing.T) {
	apiErr := errors.New("rate limited")
	client := &fakeChatClient{turns: []chatTurn{{err: apiErr}}}
	classifier := NewClassifier(client, zerolog.Nop(), testMetrics)

	_, err := classifier.Classify(context.Background(), ClassifyRequest{
		TargetVariable: "creatine",
		Title:          "Some paper",
		Abstract:       "Some abstract",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apiErr)
	assert.Contains(t, err.Error(), "classify relevance")
}

func TestClassifierUsagePassthrough(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{textTurn("yes")}}
	classifier := NewClassifier(client, zerolog.Nop(), testMetrics)

	res, err := classifier.Classify(context.Background(), ClassifyRequest{
		TargetVariable: "creatine",
		Title:          "Some paper",
		Abstract:       "Some abstract",
	})
	require.NoError(t, err)
	assert.Equal(t, llm.Usage{InputTokens: 100, OutputTokens: 20}, res.Usage)
	assert.Equal(t, "fake-model", res.Model)
}
