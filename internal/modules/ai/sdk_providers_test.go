package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOpenAIBaseURL(t *testing.T) {
	assert.Equal(t, "", openAIBaseURL(" "))
	assert.Equal(t, "http://localhost:8080/v1/", openAIBaseURL("http://localhost:8080"))
	assert.Equal(t, "http://localhost:8080/v1/", openAIBaseURL("http://localhost:8080/v1/"))
	assert.Equal(t, "https://gw.example/openai/v1/", openAIBaseURL("https://gw.example/openai"))
}

func TestOpenAIAnalyzeImage(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"description\":\"cat\"}"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL)
	out, err := p.Analyze(context.Background(), AnalysisRequest{
		File:   File{Name: "c.png", MIMEType: "image/png", Data: []byte("png")},
		Model:  Model{ID: "gpt-4o", Name: "GPT-4o"},
		APIKey: "sk-test",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"description":"cat"}`, out)

	assert.Equal(t, "gpt-4o", body["model"])
	assert.Equal(t, "json_object", body["response_format"].(map[string]interface{})["type"])
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 1)
	content := msgs[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, content, 2)
	img := content[1].(map[string]interface{})
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "data:image/png;base64,cG5n", img["image_url"].(map[string]interface{})["url"])
}

func TestOpenAIClassifiesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL)
	_, err := p.Analyze(context.Background(), AnalysisRequest{File: File{MIMEType: "text/plain"}, Model: Model{ID: "gpt-4o"}, APIKey: "k"})
	require.Error(t, err)
	assert.Equal(t, KindRateLimit, p.Classify(err))
}

func TestOpenAIPreflight(t *testing.T) {
	p := NewOpenAIProvider("")
	assert.NoError(t, p.Preflight(AnalysisRequest{File: File{MIMEType: "application/pdf"}}))
	err := p.Preflight(AnalysisRequest{File: File{MIMEType: "audio/mpeg"}})
	assert.Equal(t, KindUnsupported, KindOf(err, nil))
}

func TestAnthropicAnalyzePDF(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","type":"message","role":"assistant","model":"claude-3-opus-20240229",
			"content":[{"type":"text","text":"{\"summary\":"},{"type":"text","text":"\"pdf\"}"}],
			"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(srv.URL)
	out, err := p.Analyze(context.Background(), AnalysisRequest{
		File:   File{Name: "r.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")},
		Model:  Model{ID: "claude-3-opus-20240229"},
		APIKey: "ak-test",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"pdf"}`, out)

	assert.EqualValues(t, anthropicMaxTokens, body["max_tokens"])
	content := body["messages"].([]interface{})[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, content, 2)
	doc := content[0].(map[string]interface{})
	assert.Equal(t, "document", doc["type"])
	assert.Equal(t, "JVBERg==", doc["source"].(map[string]interface{})["data"])
	assert.Equal(t, "text", content[1].(map[string]interface{})["type"])
}

func TestAnthropicClassifiesOverload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(srv.URL)
	_, err := p.Analyze(context.Background(), AnalysisRequest{File: File{MIMEType: "text/plain"}, Model: Model{ID: "claude-3-haiku-20240307"}, APIKey: "k"})
	require.Error(t, err)
	assert.Equal(t, KindTransient, p.Classify(err))
}
