package models

// APIUsageModel is the daily request count of a signed-in user.
type APIUsageModel struct {
	Base
	UserID string `json:"user_id" gorm:"type:char(36);uniqueIndex:idx_usage_user_date;not null"`
	Date   string `json:"date"    gorm:"size:10;uniqueIndex:idx_usage_user_date;not null"`
	Count  int    `json:"count"   gorm:"not null;default:0"`
}

func (APIUsageModel) TableName() string { return "api_usage" }
