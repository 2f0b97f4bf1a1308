package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/middleware"
	"github.com/prism-ai/prism/internal/models"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// ProDailyLimit is the daily request allowance of the pro plan.
	ProDailyLimit = 15000
	planPeriod    = 30 * 24 * time.Hour
)

var ErrInvalidPlan = errors.New("plan must be free or pro")

type UpdateProfileDTO struct {
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

type planDTO struct {
	Plan string `json:"plan" binding:"required"`
}

// Billing is the mock subscription view of a user.
type Billing struct {
	Plan         string           `json:"plan"`
	PlanRenewsAt *time.Time       `json:"plan_renews_at"`
	DailyLimit   int              `json:"daily_limit"`
	Usage        ai.UsageSnapshot `json:"usage"`
}

type Service struct {
	db    *gorm.DB
	usage *ai.UsageTracker
	now   func() time.Time
}

func NewService(db *gorm.DB, usage *ai.UsageTracker) *Service {
	return &Service{db: db, usage: usage, now: time.Now}
}

// Profile returns the user's profile, creating it from the token claims on
// first access.
func (s *Service) Profile(ctx context.Context, userID, email string) (*models.UserProfileModel, error) {
	p := models.UserProfileModel{Email: email, Plan: models.PlanFree}
	p.ID = userID
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error
	if err != nil {
		return nil, err
	}
	var u models.UserProfileModel
	if err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	if email != "" && u.Email != email {
		u.Email = email
		if err := s.db.WithContext(ctx).Model(&u).Update("email", email).Error; err != nil {
			return nil, err
		}
	}
	return &u, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID, email string, dto *UpdateProfileDTO) (*models.UserProfileModel, error) {
	u, err := s.Profile(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if dto.DisplayName != nil {
		updates["display_name"] = strings.TrimSpace(*dto.DisplayName)
		u.DisplayName = strings.TrimSpace(*dto.DisplayName)
	}
	if dto.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*dto.AvatarURL)
		u.AvatarURL = strings.TrimSpace(*dto.AvatarURL)
	}
	if len(updates) == 0 {
		return u, nil
	}
	return u, s.db.WithContext(ctx).Model(u).Updates(updates).Error
}

func (s *Service) limitFor(plan string) int {
	if plan == models.PlanPro {
		return ProDailyLimit
	}
	return s.usage.Limit()
}

// Billing reports the plan and today's usage against its limit.
func (s *Service) Billing(ctx context.Context, userID, email string) (*Billing, error) {
	u, err := s.Profile(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	snap, err := s.usage.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	limit := s.limitFor(u.Plan)
	if snap.Source == ai.UsageSourceLocal {
		snap.Limit = limit
		snap.Remaining = max(limit-snap.Count, 0)
	}
	return &Billing{Plan: u.Plan, PlanRenewsAt: u.PlanRenewsAt, DailyLimit: limit, Usage: snap}, nil
}

// SetPlan switches the plan. No payment is taken.
func (s *Service) SetPlan(ctx context.Context, userID, email, plan string) (*Billing, error) {
	plan = strings.ToLower(strings.TrimSpace(plan))
	if plan != models.PlanFree && plan != models.PlanPro {
		return nil, ErrInvalidPlan
	}
	u, err := s.Profile(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	var renews *time.Time
	if plan == models.PlanPro {
		t := s.now().Add(planPeriod).UTC()
		renews = &t
	}
	err = s.db.WithContext(ctx).Model(u).Updates(map[string]interface{}{"plan": plan, "plan_renews_at": renews}).Error
	if err != nil {
		return nil, err
	}
	return s.Billing(ctx, userID, email)
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/account", authMW)
	g.GET("/profile", h.getProfile)
	g.PATCH("/profile", h.updateProfile)
	g.GET("/billing", h.getBilling)
	g.POST("/billing/plan", h.setPlan)
}

// GET /account/profile
func (h *Handler) getProfile(c *gin.Context) {
	u, err := h.svc.Profile(c.Request.Context(), middleware.CurrentUserID(c), middleware.CurrentEmail(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, u)
}

// PATCH /account/profile
func (h *Handler) updateProfile(c *gin.Context) {
	var dto UpdateProfileDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.svc.UpdateProfile(c.Request.Context(), middleware.CurrentUserID(c), middleware.CurrentEmail(c), &dto)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, u)
}

// GET /account/billing
func (h *Handler) getBilling(c *gin.Context) {
	b, err := h.svc.Billing(c.Request.Context(), middleware.CurrentUserID(c), middleware.CurrentEmail(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, b)
}

// POST /account/billing/plan
func (h *Handler) setPlan(c *gin.Context) {
	var dto planDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	b, err := h.svc.SetPlan(c.Request.Context(), middleware.CurrentUserID(c), middleware.CurrentEmail(c), dto.Plan)
	if err != nil {
		if errors.Is(err, ErrInvalidPlan) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, b)
}
