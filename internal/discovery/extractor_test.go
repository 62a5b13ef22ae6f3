package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/llm"
)

// memSink collects accepted interactions.
type memSink struct {
	mu    sync.Mutex
	items []*domain.Interaction
	err   error
}

func (s *memSink) AcceptInteraction(_ context.Context, interaction *domain.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, interaction)
	return nil
}

func submitCall(id string, interactions ...submittedInteraction) llm.ToolCall {
	args, err := json.Marshal(submitArgs{Interactions: interactions})
	if err != nil {
		panic(err)
	}
	return llm.ToolCall{ID: id, Name: toolSubmitInteractions, Arguments: args}
}

func finishCall(id string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: toolFinishExtraction, Arguments: json.RawMessage(`{}`)}
}

func testExtractRequest(text string) ExtractRequest {
	job := newTestJob(5)
	return ExtractRequest{
		JobID:           job.ID,
		WorkspaceID:     job.WorkspaceID,
		TargetVariable:  "creatine",
		DOI:             "10.1000/demo.1",
		PublicationDate: "2023-05-01",
		Text:            text,
	}
}

func TestExtractorAcceptsAndFinishes(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{
		toolTurn(submitCall("c1", submittedInteraction{
			IndependentVariable: "creatine",
			DependentVariable:   "muscle strength",
			Effect:              "+",
		})),
		toolTurn(finishCall("c2")),
	}}
	extractor := NewExtractor(client, ExtractorConfig{}, zerolog.Nop(), testMetrics)
	sink := &memSink{}

	req := testExtractRequest("Full text of the paper.")
	res, err := extractor.Extract(context.Background(), req, sink)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 0, res.Rejected)
	assert.Equal(t, 2, res.Iterations)
	assert.True(t, res.Finished)

	require.Len(t, sink.items, 1)
	stored := sink.items[0]
	assert.Equal(t, req.JobID, stored.JobID)
	assert.Equal(t, req.WorkspaceID, stored.WorkspaceID)
	assert.Equal(t, "creatine", stored.IndependentVariable)
	assert.Equal(t, "muscle strength", stored.DependentVariable)
	assert.Equal(t, domain.EffectPositive, stored.Effect)
	assert.Equal(t, "10.1000/demo.1", stored.Reference)
	assert.Equal(t, "2023-05-01", stored.DatePublished)
	assert.NotZero(t, stored.ID)

	// First request carries the system prompt, initial instructions and text.
	require.Len(t, client.requests, 2)
	first := client.requests[0]
	assert.Contains(t, first.Messages[0].Content, "scientific paper analyzer")
	assert.Contains(t, first.Messages[1].Content, "Variable of interest: creatine")
	assert.Contains(t, first.Messages[1].Content, "Full text of the paper.")
	require.Len(t, first.Tools, 2)

	// Second request ends with the tool result acknowledging the store.
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Contains(t, last.Content, "Stored: creatine -> muscle strength (+)")
	assert.Contains(t, last.Content, "1 of 1 interaction(s) accepted")
}

func TestExtractorRejectionFeedback(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{
		toolTurn(submitCall("c1",
			submittedInteraction{IndependentVariable: "creatine", DependentVariable: "power output", Effect: "increases"},
			submittedInteraction{IndependentVariable: "creatine", DependentVariable: "", Effect: "+"},
			submittedInteraction{IndependentVariable: "creatine", DependentVariable: "fatigue", Effect: "sideways"},
			submittedInteraction{IndependentVariable: "protein", DependentVariable: "muscle mass", Effect: "+"},
		)),
		toolTurn(finishCall("c2")),
	}}
	extractor := NewExtractor(client, ExtractorConfig{}, zerolog.Nop(), testMetrics)
	sink := &memSink{}

	res, err := extractor.Extract(context.Background(), testExtractRequest("text"), sink)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 3, res.Rejected)

	require.Len(t, sink.items, 1)
	assert.Equal(t, "power output", sink.items[0].DependentVariable)
	assert.Equal(t, domain.EffectPositive, sink.items[0].Effect)

	feedback := client.requests[1].Messages[len(client.requests[1].Messages)-1].Content
	assert.Contains(t, feedback, "Stored: creatine -> power output (+)")
	assert.Contains(t, feedback, "must be non-empty")
	assert.Contains(t, feedback, `effect "sideways" is not recognized`)
	assert.Contains(t, feedback, `neither variable matches the target variable "creatine"`)
	assert.Contains(t, feedback, "1 of 4 interaction(s) accepted")
}

func TestExtractorNudgesOnMissingToolCall(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{
		textTurn("I found that creatine increases muscle strength."),
		toolTurn(finishCall("c1")),
	}}
	extractor := NewExtractor(client, ExtractorConfig{}, zerolog.Nop(), testMetrics)

	res, err := extractor.Extract(context.Background(), testExtractRequest("text"), &memSink{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iterations)
	assert.True(t, res.Finished)

	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, extractorNudge, last.Content)
}

func TestExtractorIterationCap(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{
		textTurn("thinking"),
		textTurn("still thinking"),
		textTurn("hmm"),
	}}
	extractor := NewExtractor(client, ExtractorConfig{MaxIterations: 3}, zerolog.Nop(), testMetrics)

	res, err := extractor.Extract(context.Background(), testExtractRequest("text"), &memSink{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iterations)
	assert.False(t, res.Finished)
	assert.Equal(t, 0, res.Accepted)
}

func TestExtractorStopsAtRemainingTarget(t *testing.T) {
	// One submit batch overshoots the remaining target; the whole batch is
	// accepted but no further turn is taken.
	client := &fakeChatClient{turns: []chatTurn{
		toolTurn(submitCall("c1",
			submittedInteraction{IndependentVariable: "creatine", DependentVariable: "power output", Effect: "+"},
			submittedInteraction{IndependentVariable: "creatine", DependentVariable: "sprint time", Effect: "-"},
			submittedInteraction{IndependentVariable: "creatine", DependentVariable: "body mass", Effect: "+"},
		)),
	}}
	extractor := NewExtractor(client, ExtractorConfig{}, zerolog.Nop(), testMetrics)
	sink := &memSink{}

	req := testExtractRequest("text")
	req.Remaining = 2
	res, err := extractor.Extract(context.Background(), req, sink)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Finished)
	assert.Len(t, sink.items, 3)
	assert.Len(t, client.requests, 1)
}

func TestExtractorMalformedArguments(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{
		toolTurn(llm.ToolCall{
			ID:        "c1",
			Name:      toolSubmitInteractions,
			Arguments: json.RawMessage(`{"interactions": "not-an-array"}`),
		}),
		toolTurn(finishCall("c2")),
	}}
	extractor := NewExtractor(client, ExtractorConfig{}, zerolog.Nop(), testMetrics)
	sink := &memSink{}

	res, err := extractor.Extract(context.Background(), testExtractRequest("text"), sink)
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Empty(t, sink.items)

	feedback := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	assert.Equal(t, llm.RoleTool, feedback.Role)
	assert.Contains(t, feedback.Content, "Error: invalid arguments")
}

func TestExtractorUnknownTool(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{
		toolTurn(llm.ToolCall{ID: "c1", Name: "search_web", Arguments: json.RawMessage(`{}`)}),
		toolTurn(finishCall("c2")),
	}}
	extractor := NewExtractor(client, ExtractorConfig{}, zerolog.Nop(), testMetrics)

	res, err := extractor.Extract(context.Background(), testExtractRequest("text"), &memSink{})
	require.NoError(t, err)
	assert.True(t, res.Finished)

	feedback := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	assert.Contains(t, feedback.Content, `Error: unknown tool "search_web"`)
}

func TestExtractorSinkFailureIsFatal(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{
		toolTurn(submitCall("c1", submittedInteraction{
			IndependentVariable: "creatine",
			DependentVariable:   "power output",
			Effect:              "+",
		})),
	}}
	extractor := NewExtractor(client, ExtractorConfig{}, zerolog.Nop(), testMetrics)
	sink := &memSink{err: errors.New("connection reset")}

	_, err := extractor.Extract(context.Background(), testExtractRequest("text"), sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist interaction")
}

func TestExtractorTransportFailureIsFatal(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{{err: errors.New("connection refused")}}}
	extractor := NewExtractor(client, ExtractorConfig{}, zerolog.Nop(), testMetrics)

	_, err := extractor.Extract(context.Background(), testExtractRequest("text"), &memSink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction iteration 1")
}

func TestExtractorTruncatesLongText(t *testing.T) {
	client := &fakeChatClient{turns: []chatTurn{toolTurn(finishCall("c1"))}}
	extractor := NewExtractor(client, ExtractorConfig{TextBudget: 50}, zerolog.Nop(), testMetrics)

	longText := strings.Repeat("abcde ", 100)
	_, err := extractor.Extract(context.Background(), testExtractRequest(longText), &memSink{})
	require.NoError(t, err)

	prompt := client.requests[0].Messages[1].Content
	assert.Contains(t, prompt, truncationMarker)
	assert.NotContains(t, prompt, longText)
}

func TestTruncateText(t *testing.T) {
	t.Run("under budget unchanged", func(t *testing.T) {
		text, truncated := truncateText("short", 100)
		assert.Equal(t, "short", text)
		assert.False(t, truncated)
	})

	t.Run("over budget cut with marker", func(t *testing.T) {
		text, truncated := truncateText("abcdefghij", 4)
		assert.Equal(t, "abcd"+truncationMarker, text)
		assert.True(t, truncated)
	})

	t.Run("never splits a rune", func(t *testing.T) {
		// 0xC3 0xA9 is a two-byte rune; a budget landing inside it must
		// back up to the previous boundary.
		text, truncated := truncateText("aaébb", 3)
		assert.Equal(t, "aa"+truncationMarker, text)
		assert.True(t, truncated)
	})

	t.Run("zero budget unlimited", func(t *testing.T) {
		text, truncated := truncateText("abcdefghij", 0)
		assert.Equal(t, "abcdefghij", text)
		assert.False(t, truncated)
	})

	t.Run("default budget at full scale", func(t *testing.T) {
		text, truncated := truncateText(strings.Repeat("a", 450000), defaultTextBudget)
		assert.Len(t, text, defaultTextBudget+len(truncationMarker))
		assert.True(t, truncated)
	})
}
