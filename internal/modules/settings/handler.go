package settings

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	g := rg.Group("/settings", mw...)
	g.GET("/preferences", h.getPreferences)
	g.PUT("/preferences", h.putPreferences)
	g.GET("/theme", h.getTheme)
	g.PUT("/theme", h.putTheme)

	k := g.Group("/api-keys")
	k.GET("", h.listKeys)
	k.PUT("/:provider", h.putKey)
	k.DELETE("/:provider", h.deleteKey)
	k.POST("/:provider/test", h.testKey)
}

func respondError(c *gin.Context, err error) {
	var cfgErr *ai.ConfigError
	switch {
	case errors.Is(err, ErrUnknownProvider), errors.Is(err, ai.ErrModelNotFound):
		response.NotFoundMsg(c, err.Error())
	case errors.Is(err, ErrInvalidTheme), errors.Is(err, ErrManagedKey),
		errors.Is(err, ai.ErrModelInactive), errors.Is(err, ErrNoScope), errors.As(err, &cfgErr):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

// GET /settings/preferences
func (h *Handler) getPreferences(c *gin.Context) {
	prefs, err := h.svc.GetPreferences(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, prefs)
}

// PUT /settings/preferences
func (h *Handler) putPreferences(c *gin.Context) {
	var partial map[string]json.RawMessage
	if err := c.ShouldBindJSON(&partial); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	prefs, err := h.svc.UpdatePreferences(c.Request.Context(), partial)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, prefs)
}

type themeDTO struct {
	Theme string `json:"theme" binding:"required"`
}

// GET /settings/theme
func (h *Handler) getTheme(c *gin.Context) {
	theme, err := h.svc.GetTheme(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, themeDTO{Theme: theme})
}

// PUT /settings/theme
func (h *Handler) putTheme(c *gin.Context) {
	var dto themeDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	theme, err := h.svc.SetTheme(c.Request.Context(), dto.Theme)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, themeDTO{Theme: theme})
}

// GET /settings/api-keys
func (h *Handler) listKeys(c *gin.Context) {
	keys, err := h.svc.ListKeys(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, keys)
}

type keyDTO struct {
	APIKey string `json:"api_key"`
}

// PUT /settings/api-keys/:provider
func (h *Handler) putKey(c *gin.Context) {
	var dto keyDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	st, err := h.svc.SetKey(c.Request.Context(), c.Param("provider"), dto.APIKey)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, st)
}

// DELETE /settings/api-keys/:provider
func (h *Handler) deleteKey(c *gin.Context) {
	if err := h.svc.DeleteKey(c.Request.Context(), c.Param("provider")); err != nil {
		respondError(c, err)
		return
	}
	response.NoContent(c)
}

// POST /settings/api-keys/:provider/test  body optional; tests the stored key when empty
func (h *Handler) testKey(c *gin.Context) {
	var dto keyDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&dto); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	result, err := h.svc.TestKey(c.Request.Context(), c.Param("provider"), dto.APIKey)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, result)
}
