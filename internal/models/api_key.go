package models

// UserAPIKeyModel stores one encrypted provider key per user.
type UserAPIKeyModel struct {
	Base
	UserID     string `json:"-"           gorm:"type:char(36);uniqueIndex:idx_user_provider;not null"`
	ProviderID string `json:"provider_id" gorm:"size:32;uniqueIndex:idx_user_provider;not null"`
	Ciphertext string `json:"-"           gorm:"type:text;not null"`
	Last4      string `json:"last4"       gorm:"size:4"`
}

func (UserAPIKeyModel) TableName() string { return "user_api_keys" }
