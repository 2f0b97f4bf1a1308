package ai

import (
	"testing"

	"github.com/prism-ai/prism/internal/pkg/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"
)

func newTestMedia(t *testing.T, gemini *fakeGemini) (*MediaService, *recordingTimer) {
	timer := &recordingTimer{}
	m := NewMediaService(gemini, KeyResolver{GeminiKey: "env-key"}, NewUsageTracker(0, nil, nil), zaptest.NewLogger(t))
	m.SetRetry(fastRetry(timer))
	return m, timer
}

func TestTranscribeAudio(t *testing.T) {
	ctx, store := clientCtx(t)
	gemini := &fakeGemini{resp: textResponse("  hello there \n")}
	m, _ := newTestMedia(t, gemini)

	text, err := m.TranscribeAudio(ctx, File{Name: "a.mp3", MIMEType: "audio/mpeg", Data: []byte("id3")})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, TranscribeModel, gemini.model)
	assert.Equal(t, "audio/mpeg", gemini.contents[0].Parts[1].InlineData.MIMEType)

	n, _ := kvstore.GetInt(ctx, store, KeyUsageCount, 0)
	assert.Equal(t, 1, n)
}

func TestMediaRejectsWrongFileTypes(t *testing.T) {
	ctx, _ := clientCtx(t)
	gemini := &fakeGemini{}
	m, _ := newTestMedia(t, gemini)

	_, err := m.TranscribeAudio(ctx, File{MIMEType: "video/mp4"})
	assert.Equal(t, KindUnsupported, KindOf(err, nil))
	_, err = m.AnalyzeVideo(ctx, File{MIMEType: "audio/wav"}, "")
	assert.Equal(t, KindUnsupported, KindOf(err, nil))
	assert.Zero(t, gemini.calls)
}

func TestAnalyzeVideoDefaultsPrompt(t *testing.T) {
	ctx, _ := clientCtx(t)
	gemini := &fakeGemini{resp: textResponse("a video")}
	m, _ := newTestMedia(t, gemini)

	_, err := m.AnalyzeVideo(ctx, File{MIMEType: "video/mp4", Data: []byte("v")}, " ")
	require.NoError(t, err)
	assert.Contains(t, gemini.contents[0].Parts[1].Text, "Describe this video")
}

func TestGenerateSpeech(t *testing.T) {
	ctx, _ := clientCtx(t)
	pcm := []byte{1, 2, 3, 4}
	gemini := &fakeGemini{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: "audio/L16;rate=24000", Data: pcm}}}},
	}}}}
	m, _ := newTestMedia(t, gemini)

	audio, err := m.GenerateSpeech(ctx, "Say hi", "")
	require.NoError(t, err)
	assert.Equal(t, pcm, audio)
	assert.Equal(t, SpeechModel, gemini.model)
	assert.Equal(t, []string{"AUDIO"}, gemini.cfg.ResponseModalities)
	assert.Equal(t, DefaultVoice, gemini.cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)

	_, err = m.GenerateSpeech(ctx, " ", "")
	assert.Equal(t, KindConfiguration, KindOf(err, nil))
}

func TestGenerateSpeechRetriesOverload(t *testing.T) {
	ctx, _ := clientCtx(t)
	gemini := &fakeGemini{err: genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "overloaded"}}
	m, timer := newTestMedia(t, gemini)

	_, err := m.GenerateSpeech(ctx, "hi", "Puck")
	require.Error(t, err)
	assert.Equal(t, 4, gemini.calls)
	assert.Len(t, timer.waits, 3)
	assert.Equal(t, KindTransient, KindOf(err, nil))
}

func TestGenerateImage(t *testing.T) {
	ctx, _ := clientCtx(t)
	gemini := &fakeGemini{images: &genai.GenerateImagesResponse{GeneratedImages: []*genai.GeneratedImage{
		{Image: &genai.Image{ImageBytes: []byte("png"), MIMEType: "image/png"}},
	}}}
	m, _ := newTestMedia(t, gemini)

	data, mt, err := m.GenerateImage(ctx, "a lighthouse", "16:9")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
	assert.Equal(t, "image/png", mt)
	assert.Equal(t, ImageModel, gemini.model)

	_, _, err = m.GenerateImage(ctx, "a lighthouse", "2:1")
	assert.Equal(t, KindConfiguration, KindOf(err, nil))
}

func TestGenerateImageNothingReturned(t *testing.T) {
	ctx, _ := clientCtx(t)
	m, _ := newTestMedia(t, &fakeGemini{images: &genai.GenerateImagesResponse{}})

	_, _, err := m.GenerateImage(ctx, "x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image returned")
}
