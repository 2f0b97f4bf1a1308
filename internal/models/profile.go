package models

import "time"

// Billing plans.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// UserProfileModel mirrors a Supabase auth user. ID is the auth user id.
type UserProfileModel struct {
	Base
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	AvatarURL    string     `json:"avatar_url"`
	Plan         string     `json:"plan"           gorm:"not null;default:free"`
	PlanRenewsAt *time.Time `json:"plan_renews_at"`
}

func (UserProfileModel) TableName() string { return "user_profiles" }
