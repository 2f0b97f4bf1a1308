package conversation

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/prism-ai/prism/internal/models"
	"github.com/prism-ai/prism/internal/modules/ai"
)

// SendInput is one user turn.
type SendInput struct {
	Content     string              `json:"content"`
	File        *models.MessageFile `json:"file"`
	ModelID     string              `json:"model_id"`
	UseSearch   bool                `json:"use_search"`
	UseThinking bool                `json:"use_thinking"`
}

func decodeAttachment(f *models.MessageFile) (*ai.File, error) {
	if f == nil {
		return nil, nil
	}
	raw := f.Base64Data
	if i := strings.Index(raw, ";base64,"); i >= 0 && strings.HasPrefix(raw, "data:") {
		raw = raw[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("attachment %q is not valid base64: %w", f.Name, err)
	}
	return &ai.File{Name: f.Name, MIMEType: ai.DetectMIME(f.Type, data), Data: data}, nil
}

// Send appends the user message and streams the answer into the
// conversation. Events are relayed in stream order; the channel closes when
// the answer ends. One answer runs per conversation at a time.
func (s *Service) Send(ctx context.Context, id string, in SendInput) (<-chan ai.ChatEvent, error) {
	if strings.TrimSpace(in.Content) == "" && in.File == nil {
		return nil, ErrEmptyMessage
	}
	attachment, err := decodeAttachment(in.File)
	if err != nil {
		return nil, err
	}
	var stored *models.MessageFile
	if in.File != nil {
		stored = &models.MessageFile{Name: in.File.Name, Type: attachment.MIMEType, Base64Data: base64.StdEncoding.EncodeToString(attachment.Data)}
	}

	l, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if l.answering {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	l.answering = true
	history := append([]models.Message(nil), l.conv.Messages...)
	s.mu.Unlock()

	_, _ = s.apply(l, func(c *Conversation) error {
		appendMessage(c, models.Message{Role: models.RoleUser, Content: in.Content, File: stored})
		return nil
	})

	events := s.chat.Stream(ctx, ai.ChatRequest{
		History:     history,
		Prompt:      in.Content,
		File:        attachment,
		ModelID:     in.ModelID,
		UseSearch:   in.UseSearch,
		UseThinking: in.UseThinking,
	})

	out := make(chan ai.ChatEvent, 16)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			l.answering = false
			s.mu.Unlock()
		}()
		for ev := range events {
			switch ev.Type {
			case ai.ChatEventChunk:
				_, _ = s.apply(l, func(c *Conversation) error {
					appendChunk(c, ev.Text)
					return nil
				})
			case ai.ChatEventSources:
				_, _ = s.apply(l, func(c *Conversation) error {
					setSources(c, ev.Sources)
					return nil
				})
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
