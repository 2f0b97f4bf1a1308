package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prism-ai/prism/internal/pkg/retry"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Models used by the media helpers.
const (
	TranscribeModel = "gemini-2.5-flash"
	SpeechModel     = "gemini-2.5-flash-preview-tts"
	ImageModel      = "imagen-3.0-generate-002"
	VideoModel      = "gemini-2.5-flash"

	DefaultVoice       = "Kore"
	DefaultAspectRatio = "1:1"
)

var validAspectRatios = map[string]bool{"1:1": true, "3:4": true, "4:3": true, "9:16": true, "16:9": true}

type geminiMedia interface {
	geminiGenerator
	geminiImager
}

// MediaService wraps the Gemini voice, audio, image and video features. Every
// call is counted once and retried under the retry policy.
type MediaService struct {
	gemini    geminiMedia
	keys      KeyResolver
	usage     *UsageTracker
	retryOpts retry.Options
	log       *zap.Logger
}

func NewMediaService(gemini geminiMedia, keys KeyResolver, usage *UsageTracker, log *zap.Logger) *MediaService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MediaService{
		gemini:    gemini,
		keys:      keys,
		usage:     usage,
		retryOpts: retry.DefaultOptions(),
		log:       log.Named("media"),
	}
}

// SetRetry replaces the retry policy.
func (s *MediaService) SetRetry(opts retry.Options) { s.retryOpts = opts }

func (s *MediaService) begin(ctx context.Context) (string, error) {
	if s.usage != nil {
		if err := s.usage.Track(ctx); err != nil {
			s.log.Warn("track usage failed", zap.Error(err))
		}
	}
	return s.keys.Resolve(ctx, ProviderGoogle)
}

func (s *MediaService) opts(op string) retry.Options {
	opts := s.retryOpts
	opts.Classify = retryClassifier(classifyGoogle)
	opts.Notify = func(err error, attempt int, wait time.Duration) {
		s.log.Info("retrying media call", zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
	return opts
}

func (s *MediaService) fail(model string, err error) error {
	return &ProviderError{Model: model, Provider: ProviderGoogle, Kind: KindOf(err, classifyGoogle), Err: err}
}

func (s *MediaService) generateText(ctx context.Context, op, model string, parts []*genai.Part) (string, error) {
	apiKey, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	text, err := retry.Do(ctx, func(ctx context.Context) (string, error) {
		resp, err := s.gemini.GenerateContent(ctx, apiKey, model, contents, nil)
		if err != nil {
			return "", err
		}
		if reason := blockReason(resp); reason != "" {
			return "", fmt.Errorf("response blocked by safety filters: %s", reason)
		}
		return responseText(resp), nil
	}, s.opts(op))
	if err != nil {
		return "", s.fail(model, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", s.fail(model, ErrEmptyAnalysis)
	}
	return text, nil
}

// TranscribeAudio returns a verbatim transcript of an audio file.
func (s *MediaService) TranscribeAudio(ctx context.Context, file File) (string, error) {
	if !strings.HasPrefix(strings.ToLower(file.MIMEType), "audio/") {
		return "", unsupportedFile(ProviderGoogle, file, "Transcription requires an audio file")
	}
	return s.generateText(ctx, "transcribe", TranscribeModel, []*genai.Part{
		{Text: "Transcribe this audio verbatim. Return only the transcript text."},
		{InlineData: &genai.Blob{MIMEType: file.MIMEType, Data: file.Data}},
	})
}

// AnalyzeVideo answers prompt about a video file.
func (s *MediaService) AnalyzeVideo(ctx context.Context, file File, prompt string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(file.MIMEType), "video/") {
		return "", unsupportedFile(ProviderGoogle, file, "Video analysis requires a video file")
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = "Describe this video in detail: scenes, people, actions, spoken content and overall purpose."
	}
	return s.generateText(ctx, "video", VideoModel, []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: file.MIMEType, Data: file.Data}},
		{Text: prompt},
	})
}

// GenerateSpeech renders text to 24kHz 16-bit mono PCM audio.
func (s *MediaService) GenerateSpeech(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ConfigError{Provider: ProviderGoogle, Message: "text is required"}
	}
	if voice == "" {
		voice = DefaultVoice
	}
	apiKey, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: text}}}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	audio, err := retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		resp, err := s.gemini.GenerateContent(ctx, apiKey, SpeechModel, contents, cfg)
		if err != nil {
			return nil, err
		}
		blob := responseInlineData(resp)
		if blob == nil {
			return nil, nil
		}
		return blob.Data, nil
	}, s.opts("speech"))
	if err != nil {
		return nil, s.fail(SpeechModel, err)
	}
	if len(audio) == 0 {
		return nil, s.fail(SpeechModel, ErrEmptyAnalysis)
	}
	return audio, nil
}

// GenerateImage creates one image and returns its bytes and MIME type.
func (s *MediaService) GenerateImage(ctx context.Context, prompt, aspectRatio string) ([]byte, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, "", &ConfigError{Provider: ProviderGoogle, Message: "prompt is required"}
	}
	if aspectRatio == "" {
		aspectRatio = DefaultAspectRatio
	}
	if !validAspectRatios[aspectRatio] {
		return nil, "", &ConfigError{Provider: ProviderGoogle, Message: fmt.Sprintf("unsupported aspect ratio %q", aspectRatio)}
	}
	apiKey, err := s.begin(ctx)
	if err != nil {
		return nil, "", err
	}
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    aspectRatio,
		OutputMIMEType: "image/png",
	}
	img, err := retry.Do(ctx, func(ctx context.Context) (*genai.Image, error) {
		resp, err := s.gemini.GenerateImages(ctx, apiKey, ImageModel, prompt, cfg)
		if err != nil {
			return nil, err
		}
		for _, gen := range resp.GeneratedImages {
			if gen != nil && gen.Image != nil && len(gen.Image.ImageBytes) > 0 {
				return gen.Image, nil
			}
		}
		return nil, nil
	}, s.opts("image"))
	if err != nil {
		return nil, "", s.fail(ImageModel, err)
	}
	if img == nil {
		return nil, "", s.fail(ImageModel, errors.New("no image returned, the prompt may have been blocked by safety filters"))
	}
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return img.ImageBytes, mimeType, nil
}
