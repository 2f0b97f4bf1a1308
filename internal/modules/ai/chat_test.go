package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/prism-ai/prism/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"
)

func collect(ch <-chan ChatEvent) []ChatEvent {
	var out []ChatEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func groundedResponse(text string, uris ...string) *genai.GenerateContentResponse {
	resp := textResponse(text)
	meta := &genai.GroundingMetadata{}
	for _, u := range uris {
		meta.GroundingChunks = append(meta.GroundingChunks, &genai.GroundingChunk{Web: &genai.GroundingChunkWeb{URI: u, Title: "t " + u}})
	}
	resp.Candidates[0].GroundingMetadata = meta
	return resp
}

func newTestChat(t *testing.T, gemini *fakeGemini) *ChatService {
	return NewChatService(mustRegistry(t, DefaultProviders()), gemini, KeyResolver{GeminiKey: "env-key"}, NewUsageTracker(0, nil, nil), 0, zaptest.NewLogger(t))
}

func TestChatStreamsChunksThenSourcesThenDone(t *testing.T) {
	ctx, _ := clientCtx(t)
	gemini := &fakeGemini{stream: []*genai.GenerateContentResponse{
		groundedResponse("Hello ", "https://a.example"),
		groundedResponse("world", "https://a.example", "https://b.example"),
	}}

	events := collect(newTestChat(t, gemini).Stream(ctx, ChatRequest{Prompt: "hi", UseSearch: true}))

	require.Len(t, events, 4)
	assert.Equal(t, ChatEvent{Type: ChatEventChunk, Text: "Hello "}, events[0])
	assert.Equal(t, ChatEvent{Type: ChatEventChunk, Text: "world"}, events[1])
	assert.Equal(t, ChatEventSources, events[2].Type)
	assert.Equal(t, []models.GroundingChunk{
		{URI: "https://a.example", Title: "t https://a.example"},
		{URI: "https://b.example", Title: "t https://b.example"},
	}, events[2].Sources)
	assert.Equal(t, ChatEventDone, events[3].Type)

	assert.Equal(t, DefaultChatModel, gemini.model)
	require.Len(t, gemini.cfg.Tools, 1)
	assert.NotNil(t, gemini.cfg.Tools[0].GoogleSearch)
}

func TestChatSendsHistoryAndAttachments(t *testing.T) {
	ctx, _ := clientCtx(t)
	gemini := &fakeGemini{stream: []*genai.GenerateContentResponse{textResponse("ok")}}
	history := []models.Message{
		{Role: models.RoleUser, Content: "look", File: &models.MessageFile{Name: "a.png", Type: "image/png", Base64Data: base64.StdEncoding.EncodeToString([]byte("png"))}},
		{Role: models.RoleModel, Content: "a cat"},
		{Role: models.RoleModel, Content: "  "},
	}

	events := collect(newTestChat(t, gemini).Stream(ctx, ChatRequest{History: history, Prompt: "why?", ModelID: "gemini-2.5-pro", UseThinking: true}))
	require.Equal(t, ChatEventDone, events[len(events)-1].Type)

	require.Len(t, gemini.contents, 3)
	assert.Equal(t, "user", gemini.contents[0].Role)
	assert.Equal(t, []byte("png"), gemini.contents[0].Parts[0].InlineData.Data)
	assert.Equal(t, "model", gemini.contents[1].Role)
	assert.Equal(t, "why?", gemini.contents[2].Parts[0].Text)
	require.NotNil(t, gemini.cfg.ThinkingConfig)
	assert.Empty(t, gemini.cfg.Tools)
}

func TestChatRejectsNonGoogleModels(t *testing.T) {
	ctx, _ := clientCtx(t)
	gemini := &fakeGemini{}

	events := collect(newTestChat(t, gemini).Stream(ctx, ChatRequest{Prompt: "hi", ModelID: "gpt-4o"}))

	require.Len(t, events, 1)
	assert.Equal(t, ChatEventError, events[0].Type)
	assert.Equal(t, KindConfiguration, events[0].Kind)
	assert.Zero(t, gemini.calls)
}

func TestChatStreamErrorEndsWithErrorEvent(t *testing.T) {
	ctx, _ := clientCtx(t)
	gemini := &fakeGemini{
		stream: []*genai.GenerateContentResponse{textResponse("partial")},
		err:    errors.New("503 UNAVAILABLE"),
	}

	events := collect(newTestChat(t, gemini).Stream(ctx, ChatRequest{Prompt: "hi"}))

	require.Len(t, events, 2)
	assert.Equal(t, ChatEventChunk, events[0].Type)
	assert.Equal(t, ChatEventError, events[1].Type)
	assert.Equal(t, KindTransient, events[1].Kind)
	assert.Contains(t, events[1].Message, "Gemini 2.5 Flash")
}

func TestChatBlockedResponse(t *testing.T) {
	ctx, _ := clientCtx(t)
	blocked := &genai.GenerateContentResponse{PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety}}
	gemini := &fakeGemini{stream: []*genai.GenerateContentResponse{blocked}}

	events := collect(newTestChat(t, gemini).Stream(ctx, ChatRequest{Prompt: "hi"}))

	require.Len(t, events, 1)
	assert.Equal(t, KindSafety, events[0].Kind)
}

func TestChatStopsWhenContextEnds(t *testing.T) {
	base, _ := clientCtx(t)
	ctx, cancel := context.WithCancel(base)
	many := make([]*genai.GenerateContentResponse, 100)
	for i := range many {
		many[i] = textResponse("x")
	}
	ch := newTestChat(t, &fakeGemini{stream: many}).Stream(ctx, ChatRequest{Prompt: "hi"})

	<-ch
	cancel()
	for range ch {
	}
}
