package ai

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/pkg/response"
	"github.com/prism-ai/prism/internal/pkg/retry"
)

// MaxUploadBytes caps files sent inline to a provider.
const MaxUploadBytes = 20 << 20

type Handler struct {
	dispatcher *Dispatcher
	usage      *UsageTracker
	media      *MediaService
}

func NewHandler(dispatcher *Dispatcher, usage *UsageTracker, media *MediaService) *Handler {
	return &Handler{dispatcher: dispatcher, usage: usage, media: media}
}

// RegisterRoutes mounts the catalog publicly and everything that reads or
// writes caller state behind scoped.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, scoped ...gin.HandlerFunc) {
	g := rg.Group("/ai")
	g.GET("/providers", h.listProviders)

	s := g.Group("", scoped...)
	s.POST("/analyze", h.analyze)
	s.GET("/usage", h.getUsage)

	media := s.Group("/media")
	media.POST("/transcribe", h.transcribe)
	media.POST("/video", h.analyzeVideo)
	media.POST("/speech", h.speech)
	media.POST("/image", h.image)
}

// RespondError writes err with the status that matches its kind.
func RespondError(c *gin.Context, err error) {
	kind := KindOf(err, nil)
	extra := gin.H{"kind": kind}
	if g := Guidance(kind); g != "" {
		extra["guidance"] = g
	}
	switch kind {
	case KindConfiguration:
		response.Error(c, http.StatusBadRequest, err.Error(), extra)
	case KindResolution:
		response.Error(c, http.StatusNotFound, err.Error(), extra)
	case KindUnsupported:
		response.Error(c, http.StatusUnsupportedMediaType, err.Error(), extra)
	case KindRateLimit:
		wait := retry.DefaultRateLimitWait
		var rl *retry.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			wait = rl.RetryAfter
		}
		response.TooManyRequests(c, err.Error(), wait, extra)
	case KindTransient:
		response.Error(c, http.StatusServiceUnavailable, err.Error(), extra)
	case KindSafety:
		response.Error(c, http.StatusUnprocessableEntity, err.Error(), extra)
	case KindProvider:
		response.Error(c, http.StatusBadGateway, err.Error(), extra)
	default:
		response.Error(c, http.StatusInternalServerError, err.Error(), extra)
	}
}

// ReadUpload reads a multipart file field into a File.
func ReadUpload(fh *multipart.FileHeader) (File, error) {
	if fh.Size > MaxUploadBytes {
		return File{}, fmt.Errorf("file %q is larger than %d MB", fh.Filename, MaxUploadBytes>>20)
	}
	f, err := fh.Open()
	if err != nil {
		return File{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes+1))
	if err != nil {
		return File{}, err
	}
	if len(data) > MaxUploadBytes {
		return File{}, fmt.Errorf("file %q is larger than %d MB", fh.Filename, MaxUploadBytes>>20)
	}
	return File{
		Name:     fh.Filename,
		MIMEType: DetectMIME(fh.Header.Get("Content-Type"), data),
		Data:     data,
	}, nil
}

func formFile(c *gin.Context) (File, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return File{}, false
	}
	file, err := ReadUpload(fh)
	if err != nil {
		response.BadRequest(c, err.Error())
		return File{}, false
	}
	return file, true
}

// FormatMarkdown is the format value that asks for analyses rendered by
// FormatAnalysis instead of raw JSON.
const FormatMarkdown = "markdown"

// WantsMarkdown reports whether the request asked for format=markdown in
// its query or form.
func WantsMarkdown(c *gin.Context) bool {
	format := c.Query("format")
	if format == "" {
		format = c.PostForm("format")
	}
	return strings.EqualFold(strings.TrimSpace(format), FormatMarkdown)
}

func formBool(c *gin.Context, key string) bool {
	v, _ := strconv.ParseBool(c.PostForm(key))
	return v
}

// GET /ai/providers
func (h *Handler) listProviders(c *gin.Context) {
	response.OK(c, h.dispatcher.Registry().ActiveProviders())
}

// POST /ai/analyze  multipart: file, model_id, with_reasoning, thinking
func (h *Handler) analyze(c *gin.Context) {
	modelID := c.PostForm("model_id")
	if modelID == "" {
		response.BadRequest(c, "model_id is required")
		return
	}
	file, ok := formFile(c)
	if !ok {
		return
	}
	result, err := h.dispatcher.AnalyzeFile(c.Request.Context(), file, modelID, formBool(c, "with_reasoning"), formBool(c, "thinking"))
	if err != nil {
		RespondError(c, err)
		return
	}
	if WantsMarkdown(c) {
		result.Analysis = FormatAnalysis(file.MIMEType, result.Analysis)
	}
	response.OK(c, result)
}

// GET /ai/usage
func (h *Handler) getUsage(c *gin.Context) {
	snap, err := h.usage.Snapshot(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, snap)
}

// POST /ai/media/transcribe  multipart: file
func (h *Handler) transcribe(c *gin.Context) {
	file, ok := formFile(c)
	if !ok {
		return
	}
	text, err := h.media.TranscribeAudio(c.Request.Context(), file)
	if err != nil {
		RespondError(c, err)
		return
	}
	response.OK(c, gin.H{"text": text})
}

// POST /ai/media/video  multipart: file, prompt
func (h *Handler) analyzeVideo(c *gin.Context) {
	file, ok := formFile(c)
	if !ok {
		return
	}
	text, err := h.media.AnalyzeVideo(c.Request.Context(), file, c.PostForm("prompt"))
	if err != nil {
		RespondError(c, err)
		return
	}
	response.OK(c, gin.H{"text": text})
}

type speechDTO struct {
	Text  string `json:"text"  binding:"required"`
	Voice string `json:"voice"`
}

// POST /ai/media/speech  returns raw 24kHz PCM
func (h *Handler) speech(c *gin.Context) {
	var dto speechDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	audio, err := h.media.GenerateSpeech(c.Request.Context(), dto.Text, dto.Voice)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Data(http.StatusOK, "audio/L16;rate=24000", audio)
}

type imageDTO struct {
	Prompt      string `json:"prompt"       binding:"required"`
	AspectRatio string `json:"aspect_ratio"`
}

// POST /ai/media/image
func (h *Handler) image(c *gin.Context) {
	var dto imageDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	data, mimeType, err := h.media.GenerateImage(c.Request.Context(), dto.Prompt, dto.AspectRatio)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Data(http.StatusOK, mimeType, data)
}
