package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryIsValid(t *testing.T) {
	r, err := NewRegistry(DefaultProviders())
	require.NoError(t, err)

	p, m, err := r.Resolve("gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, ProviderGoogle, p.ID)
	assert.Equal(t, "Gemini 2.5 Flash", m.Name)
}

func TestResolveUnknownNamesTheID(t *testing.T) {
	r := mustRegistry(t, DefaultProviders())

	_, _, err := r.Resolve("does-not-exist")
	require.ErrorIs(t, err, ErrModelNotFound)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestActiveProvidersHidesInactive(t *testing.T) {
	r := mustRegistry(t, WithDisabled(DefaultProviders(), []string{ProviderPerplexity}, []string{"gpt-4o-mini"}))

	for _, p := range r.ActiveProviders() {
		assert.NotEqual(t, ProviderPerplexity, p.ID)
		for _, m := range p.Models {
			assert.True(t, m.Active, m.ID)
			assert.NotEqual(t, "gpt-4o-mini", m.ID)
		}
	}

	_, _, err := r.ResolveActive("llama-3-sonar-small-32k-online")
	require.ErrorIs(t, err, ErrModelInactive)

	// Inactive models still resolve for lookups that do not dispatch.
	_, m, err := r.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	assert.False(t, m.Active)
}

func TestActiveProvidersOmitsEmptyProviders(t *testing.T) {
	providers := []Provider{
		{ID: "a", Name: "A", Active: true, Models: []Model{{ID: "a1", Active: false}}},
		{ID: "b", Name: "B", Active: true, Models: []Model{{ID: "b1", Active: true}}},
	}
	r := mustRegistry(t, providers)

	active := r.ActiveProviders()
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)
}

func TestNewRegistryRejectsBadCatalogs(t *testing.T) {
	cases := map[string][]Provider{
		"duplicate model": {
			{ID: "a", Active: true, Models: []Model{{ID: "m"}}},
			{ID: "b", Active: true, Models: []Model{{ID: "m"}}},
		},
		"duplicate provider": {
			{ID: "a", Models: []Model{{ID: "m1"}}},
			{ID: "a", Models: []Model{{ID: "m2"}}},
		},
		"no models":   {{ID: "a"}},
		"no model id": {{ID: "a", Models: []Model{{Name: "x"}}}},
		"no id":       {{Models: []Model{{ID: "m"}}}},
	}
	for name, providers := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(providers)
			assert.Error(t, err)
		})
	}
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := mustRegistry(t, DefaultProviders())

	p, _ := r.Provider(ProviderGoogle)
	p.Models[0].Name = "changed"

	_, m, err := r.Resolve(p.Models[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, "changed", m.Name)
}

func TestRegistryCopiesDoNotShareTags(t *testing.T) {
	r := mustRegistry(t, DefaultProviders())

	p, m, err := r.Resolve("gemini-2.5-flash")
	require.NoError(t, err)
	require.NotEmpty(t, m.Tags)
	m.Tags[0] = "mutated"
	p.Models[0].Tags[0] = "mutated"

	got, ok := r.Provider(ProviderGoogle)
	require.True(t, ok)
	got.Models[0].Tags[0] = "mutated"

	_, again, err := r.Resolve("gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, TagVision, again.Tags[0])
	assert.True(t, again.HasTag(TagFast))
}

func TestCheapestModelPrefersFast(t *testing.T) {
	r := mustRegistry(t, DefaultProviders())

	p, ok := r.Provider(ProviderAnthropic)
	require.True(t, ok)
	assert.Equal(t, "claude-3-haiku-20240307", cheapestModel(p).ID)
}
