package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/pagination"
	"github.com/prism-ai/prism/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	g := rg.Group("/conversations", mw...)
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.rename)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/messages", h.send)
	g.GET("/:id/export", h.export)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFoundMsg(c, err.Error())
	case errors.Is(err, ErrBusy):
		response.Conflict(c, err.Error())
	case errors.Is(err, clientscope.ErrMissing):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

// GET /conversations
func (h *Handler) list(c *gin.Context) {
	items, pag, err := h.svc.List(c.Request.Context(), pagination.FromContext(c, "updated_at", "created_at"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Paged(c, items, pag)
}

type titleDTO struct {
	Title string `json:"title"`
}

// POST /conversations
func (h *Handler) create(c *gin.Context) {
	var dto titleDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&dto); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	conv, err := h.svc.Create(c.Request.Context(), dto.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, conv)
}

// GET /conversations/:id
func (h *Handler) get(c *gin.Context) {
	conv, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, conv)
}

// PATCH /conversations/:id
func (h *Handler) rename(c *gin.Context) {
	var dto titleDTO
	if err := c.ShouldBindJSON(&dto); err != nil || dto.Title == "" {
		response.BadRequest(c, "title is required")
		return
	}
	conv, err := h.svc.Rename(c.Request.Context(), c.Param("id"), dto.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, conv)
}

// DELETE /conversations/:id
func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	response.NoContent(c)
}

// POST /conversations/:id/messages  streams the answer as server-sent events
func (h *Handler) send(c *gin.Context) {
	var dto SendInput
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	events, err := h.svc.Send(ctx, id, dto)
	if err != nil {
		if errors.Is(err, ErrEmptyMessage) {
			response.BadRequest(c, err.Error())
			return
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBusy) {
			respondError(c, err)
			return
		}
		response.BadRequest(c, err.Error())
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(eventType string, data interface{}) {
		payload, _ := json.Marshal(data)
		fmt.Fprintf(c.Writer, "data: %s\n\n", fmt.Sprintf(`{"type":%q,"data":%s}`, eventType, payload))
		c.Writer.Flush()
	}

	for ev := range events {
		switch ev.Type {
		case ai.ChatEventChunk:
			sendEvent(ev.Type, ev.Text)
		case ai.ChatEventSources:
			sendEvent(ev.Type, ev.Sources)
		case ai.ChatEventError:
			sendEvent(ev.Type, gin.H{"message": ev.Message, "kind": ev.Kind, "guidance": ai.Guidance(ev.Kind)})
		case ai.ChatEventDone:
			sendEvent(ev.Type, nil)
		}
	}
	if conv, err := h.svc.Get(ctx, id); err == nil {
		sendEvent("conversation", conv)
	}
}

// GET /conversations/:id/export?format=markdown|html
func (h *Handler) export(c *gin.Context) {
	file, err := h.svc.Export(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", FormatMarkdown))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(c, err)
			return
		}
		response.BadRequest(c, err.Error())
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
