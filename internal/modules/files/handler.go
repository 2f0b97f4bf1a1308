package files

import (
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	g := rg.Group("/files", mw...)
	g.GET("", h.list)
	g.POST("", h.upload)
	g.GET("/:id", h.get)
	g.GET("/:id/preview", h.preview)
	g.POST("/:id/analyze", h.analyze)
	g.DELETE("/:id", h.delete)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFoundMsg(c, err.Error())
	case errors.Is(err, ErrTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, err.Error(), nil)
	case errors.Is(err, clientscope.ErrMissing):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

// GET /files
func (h *Handler) list(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, items)
}

// POST /files  multipart: file, model_id, with_reasoning, thinking
func (h *Handler) upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	src, err := fh.Open()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	defer src.Close()

	f, err := h.svc.Upload(c.Request.Context(), UploadInput{
		Name:     fh.Filename,
		MIMEType: fh.Header.Get("Content-Type"),
		Size:     fh.Size,
		Data:     src,
		AnalyzeOptions: AnalyzeOptions{
			ModelID:       c.PostForm("model_id"),
			WithReasoning: formBool(c, "with_reasoning"),
			UseThinking:   formBool(c, "thinking"),
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if f.Status == StatusAnalyzing {
		response.Accepted(c, f)
		return
	}
	response.Created(c, f)
}

// GET /files/:id
func (h *Handler) get(c *gin.Context) {
	f, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if f.Analysis != nil && ai.WantsMarkdown(c) {
		md := ai.FormatAnalysis(f.MIMEType, *f.Analysis)
		f.Analysis = &md
	}
	response.OK(c, f)
}

// GET /files/:id/preview
func (h *Handler) preview(c *gin.Context) {
	rc, f, err := h.svc.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, f.Size, f.MIMEType, rc, map[string]string{
		"Content-Disposition": mime.FormatMediaType("inline", map[string]string{"filename": f.Name}),
		"Cache-Control":       "private, max-age=3600",
	})
}

// POST /files/:id/analyze  {model_id, with_reasoning, thinking}
func (h *Handler) analyze(c *gin.Context) {
	var opts AnalyzeOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if opts.ModelID == "" {
		response.BadRequest(c, "model_id is required")
		return
	}
	f, err := h.svc.Analyze(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Accepted(c, f)
}

// DELETE /files/:id
func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Remove(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	response.NoContent(c)
}

func formBool(c *gin.Context, key string) bool {
	v, _ := strconv.ParseBool(c.PostForm(key))
	return v
}

func isSafeSegment(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			continue
		}
		return false
	}
	return true
}
