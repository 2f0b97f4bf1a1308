package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/prism-ai/prism/internal/models"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultChatModel is used when a chat request names no model.
const DefaultChatModel = "gemini-2.5-flash"

// Chat event types, in the order a successful stream emits them.
const (
	ChatEventChunk   = "chunk"
	ChatEventSources = "sources"
	ChatEventDone    = "done"
	ChatEventError   = "error"
)

// ChatRequest is one user turn sent with the prior history.
type ChatRequest struct {
	History     []models.Message
	Prompt      string
	File        *File
	ModelID     string
	UseSearch   bool
	UseThinking bool
}

// ChatEvent is delivered to the caller in stream order.
type ChatEvent struct {
	Type    string                  `json:"type"`
	Text    string                  `json:"text,omitempty"`
	Sources []models.GroundingChunk `json:"sources,omitempty"`
	Message string                  `json:"message,omitempty"`
	Kind    ErrorKind               `json:"kind,omitempty"`
}

// ChatService streams Gemini chat answers. Streams are not retried.
type ChatService struct {
	registry       *Registry
	gemini         geminiStreamer
	keys           KeyResolver
	usage          *UsageTracker
	thinkingBudget int32
	log            *zap.Logger
}

func NewChatService(registry *Registry, gemini geminiStreamer, keys KeyResolver, usage *UsageTracker, thinkingBudget int, log *zap.Logger) *ChatService {
	if thinkingBudget <= 0 {
		thinkingBudget = DefaultThinkingBudget
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatService{
		registry:       registry,
		gemini:         gemini,
		keys:           keys,
		usage:          usage,
		thinkingBudget: int32(thinkingBudget),
		log:            log.Named("chat"),
	}
}

// Stream starts the answer for req. The channel is closed after a done or
// error event, or when ctx ends.
func (s *ChatService) Stream(ctx context.Context, req ChatRequest) <-chan ChatEvent {
	out := make(chan ChatEvent, 16)
	go func() {
		defer close(out)
		if err := s.stream(ctx, req, out); err != nil {
			kind := KindOf(err, classifyGoogle)
			s.log.Warn("chat stream failed", zap.String("model", req.ModelID), zap.String("kind", string(kind)), zap.Error(err))
			send(ctx, out, ChatEvent{Type: ChatEventError, Message: err.Error(), Kind: kind})
			return
		}
		send(ctx, out, ChatEvent{Type: ChatEventDone})
	}()
	return out
}

func send(ctx context.Context, out chan<- ChatEvent, ev ChatEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *ChatService) stream(ctx context.Context, req ChatRequest, out chan<- ChatEvent) error {
	if s.usage != nil {
		if err := s.usage.Track(ctx); err != nil {
			s.log.Warn("track usage failed", zap.Error(err))
		}
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = DefaultChatModel
	}
	provider, model, err := s.registry.ResolveActive(modelID)
	if err != nil {
		return err
	}
	if provider.ID != ProviderGoogle {
		return &ConfigError{Provider: provider.ID, Message: "chat is only available with Google models"}
	}
	apiKey, err := s.keys.Resolve(ctx, ProviderGoogle)
	if err != nil {
		return err
	}

	contents, err := chatContents(req)
	if err != nil {
		return err
	}
	cfg := &genai.GenerateContentConfig{}
	if req.UseSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if req.UseThinking && model.HasTag(TagPro) {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(s.thinkingBudget)}
	}

	var sources []models.GroundingChunk
	seen := make(map[string]bool)
	for resp, err := range s.gemini.GenerateContentStream(ctx, apiKey, model.ID, contents, cfg) {
		if err != nil {
			return &ProviderError{Model: model.Name, Provider: ProviderGoogle, Kind: KindOf(err, classifyGoogle), Err: err}
		}
		if reason := blockReason(resp); reason != "" {
			return &ProviderError{Model: model.Name, Provider: ProviderGoogle, Kind: KindSafety, Err: fmt.Errorf("response blocked by safety filters: %s", reason)}
		}
		if text := responseText(resp); text != "" {
			if !send(ctx, out, ChatEvent{Type: ChatEventChunk, Text: text}) {
				return ctx.Err()
			}
		}
		for _, src := range groundingSources(resp) {
			if !seen[src.URI] {
				seen[src.URI] = true
				sources = append(sources, src)
			}
		}
	}
	if len(sources) > 0 {
		send(ctx, out, ChatEvent{Type: ChatEventSources, Sources: sources})
	}
	return nil
}

func chatContents(req ChatRequest) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.History {
		role := "user"
		if msg.Role == models.RoleModel {
			role = "model"
		}
		var parts []*genai.Part
		if msg.File != nil && msg.File.Base64Data != "" {
			data, err := base64.StdEncoding.DecodeString(msg.File.Base64Data)
			if err != nil {
				return nil, fmt.Errorf("decode attachment %q: %w", msg.File.Name, err)
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: msg.File.Type, Data: data}})
		}
		if strings.TrimSpace(msg.Content) != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	var parts []*genai.Part
	if req.File != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.File.MIMEType, Data: req.File.Data}})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})
	return append(contents, &genai.Content{Role: "user", Parts: parts}), nil
}

func groundingSources(resp *genai.GenerateContentResponse) []models.GroundingChunk {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var out []models.GroundingChunk
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil {
			continue
		}
		if chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		uri, title := chunk.Web.URI, chunk.Web.Title
		if title == "" {
			title = uri
		}
		out = append(out, models.GroundingChunk{URI: uri, Title: title})
	}
	return out
}
