package ai

import (
	"errors"
	"fmt"
	"slices"
)

const (
	ProviderGoogle     = "google"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderPerplexity = "perplexity"
)

// Model tags.
const (
	TagVision    = "vision"
	TagDocuments = "documents"
	TagPro       = "pro"
	TagSearch    = "search"
	TagFast      = "fast"
)

var (
	ErrModelNotFound = errors.New("model not found")
	ErrModelInactive = errors.New("model is not available")
)

// Model identifies one LLM endpoint variant.
type Model struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Active      bool     `json:"active" yaml:"active"`
	Tags        []string `json:"tags,omitempty" yaml:"tags"`
}

// HasTag reports whether the model carries tag.
func (m Model) HasTag(tag string) bool { return slices.Contains(m.Tags, tag) }

// Provider owns an ordered, non-empty list of models.
type Provider struct {
	ID     string  `json:"id" yaml:"id"`
	Name   string  `json:"name" yaml:"name"`
	Active bool    `json:"active" yaml:"active"`
	Models []Model `json:"models" yaml:"models"`
}

// Registry is the read-only provider catalog.
type Registry struct {
	providers []Provider
	index     map[string]modelRef
}

type modelRef struct {
	provider int
	model    int
}

// NewRegistry validates and indexes providers. Model ids must be unique
// across the whole registry.
func NewRegistry(providers []Provider) (*Registry, error) {
	r := &Registry{
		providers: cloneProviders(providers),
		index:     make(map[string]modelRef),
	}
	seenProviders := make(map[string]bool, len(providers))
	for pi, p := range r.providers {
		if p.ID == "" {
			return nil, fmt.Errorf("provider at index %d has no id", pi)
		}
		if seenProviders[p.ID] {
			return nil, fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seenProviders[p.ID] = true
		if len(p.Models) == 0 {
			return nil, fmt.Errorf("provider %q has no models", p.ID)
		}
		for mi, m := range p.Models {
			if m.ID == "" {
				return nil, fmt.Errorf("provider %q has a model without id", p.ID)
			}
			if prev, dup := r.index[m.ID]; dup {
				return nil, fmt.Errorf("duplicate model id %q in providers %q and %q", m.ID, r.providers[prev.provider].ID, p.ID)
			}
			r.index[m.ID] = modelRef{provider: pi, model: mi}
		}
	}
	return r, nil
}

// Resolve finds the provider and model for modelID.
func (r *Registry) Resolve(modelID string) (Provider, Model, error) {
	ref, ok := r.index[modelID]
	if !ok {
		return Provider{}, Model{}, fmt.Errorf("%w: %q", ErrModelNotFound, modelID)
	}
	p := r.providers[ref.provider]
	p.Models = cloneModels(p.Models)
	return p, p.Models[ref.model], nil
}

// ResolveActive is Resolve that also rejects inactive models and providers.
func (r *Registry) ResolveActive(modelID string) (Provider, Model, error) {
	p, m, err := r.Resolve(modelID)
	if err != nil {
		return p, m, err
	}
	if !p.Active {
		return p, m, fmt.Errorf("%w: provider %q is disabled", ErrModelInactive, p.ID)
	}
	if !m.Active {
		return p, m, fmt.Errorf("%w: %q is disabled", ErrModelInactive, m.ID)
	}
	return p, m, nil
}

// Providers returns every provider, active or not.
func (r *Registry) Providers() []Provider {
	return cloneProviders(r.providers)
}

// ActiveProviders lists active providers with only their active models.
// Providers left without models are omitted.
func (r *Registry) ActiveProviders() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if !p.Active {
			continue
		}
		models := make([]Model, 0, len(p.Models))
		for _, m := range p.Models {
			if m.Active {
				m.Tags = slices.Clone(m.Tags)
				models = append(models, m)
			}
		}
		if len(models) == 0 {
			continue
		}
		p.Models = models
		out = append(out, p)
	}
	return out
}

// Provider looks up a provider by id.
func (r *Registry) Provider(id string) (Provider, bool) {
	for _, p := range r.providers {
		if p.ID == id {
			p.Models = cloneModels(p.Models)
			return p, true
		}
	}
	return Provider{}, false
}

// WithDisabled returns a copy of providers with the listed ids switched off.
func WithDisabled(providers []Provider, providerIDs, modelIDs []string) []Provider {
	out := cloneProviders(providers)
	for pi := range out {
		if slices.Contains(providerIDs, out[pi].ID) {
			out[pi].Active = false
		}
		for mi := range out[pi].Models {
			if slices.Contains(modelIDs, out[pi].Models[mi].ID) {
				out[pi].Models[mi].Active = false
			}
		}
	}
	return out
}

func cloneProviders(in []Provider) []Provider {
	out := make([]Provider, len(in))
	for i, p := range in {
		p.Models = cloneModels(p.Models)
		out[i] = p
	}
	return out
}

// cloneModels copies models deeply enough that callers cannot reach the
// catalog through Tags.
func cloneModels(in []Model) []Model {
	out := make([]Model, len(in))
	for i, m := range in {
		m.Tags = slices.Clone(m.Tags)
		out[i] = m
	}
	return out
}

// DefaultProviders is the built-in catalog.
func DefaultProviders() []Provider {
	return []Provider{
		{
			ID:     ProviderGoogle,
			Name:   "Google",
			Active: true,
			Models: []Model{
				{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Description: "Fast multimodal model for everyday analysis", Active: true, Tags: []string{TagVision, TagDocuments, TagSearch, TagFast}},
				{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Description: "Most capable Gemini model with extended thinking", Active: true, Tags: []string{TagVision, TagDocuments, TagSearch, TagPro}},
				{ID: "gemini-2.5-flash-lite", Name: "Gemini 2.5 Flash Lite", Description: "Lowest latency Gemini model", Active: true, Tags: []string{TagVision, TagDocuments, TagFast}},
				{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Description: "Previous generation flash model", Active: false, Tags: []string{TagVision, TagDocuments}},
			},
		},
		{
			ID:     ProviderOpenAI,
			Name:   "OpenAI",
			Active: true,
			Models: []Model{
				{ID: "gpt-4o", Name: "GPT-4o", Description: "OpenAI flagship multimodal model", Active: true, Tags: []string{TagVision, TagDocuments}},
				{ID: "gpt-4o-mini", Name: "GPT-4o mini", Description: "Affordable small multimodal model", Active: true, Tags: []string{TagVision, TagDocuments, TagFast}},
				{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Description: "Previous generation GPT-4", Active: false, Tags: []string{TagVision}},
			},
		},
		{
			ID:     ProviderAnthropic,
			Name:   "Anthropic",
			Active: true,
			Models: []Model{
				{ID: "claude-3-5-sonnet-20240620", Name: "Claude 3.5 Sonnet", Description: "Balanced intelligence and speed", Active: true, Tags: []string{TagVision, TagDocuments}},
				{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Description: "Deep analysis of complex material", Active: true, Tags: []string{TagVision, TagDocuments}},
				{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Description: "Fast and compact", Active: true, Tags: []string{TagVision, TagFast}},
			},
		},
		{
			ID:     ProviderPerplexity,
			Name:   "Perplexity",
			Active: true,
			Models: []Model{
				{ID: "llama-3-sonar-large-32k-online", Name: "Sonar Large Online", Description: "Web-connected analysis of text documents", Active: true, Tags: []string{TagDocuments, TagSearch}},
				{ID: "llama-3-sonar-small-32k-online", Name: "Sonar Small Online", Description: "Faster web-connected model", Active: true, Tags: []string{TagDocuments, TagSearch, TagFast}},
			},
		},
	}
}
