package conversation

import (
	"context"
	"errors"

	"github.com/prism-ai/prism/internal/models"
	"github.com/prism-ai/prism/internal/pkg/pagination"
	"github.com/prism-ai/prism/internal/pkg/response"
	"gorm.io/gorm"
)

// Repository persists conversations of signed-in users.
type Repository interface {
	Insert(ctx context.Context, m *models.ConversationModel) error
	Update(ctx context.Context, m *models.ConversationModel) error
	Get(ctx context.Context, userID, id string) (models.ConversationModel, error)
	List(ctx context.Context, userID string, q pagination.Query) ([]models.ConversationModel, response.Pagination, error)
	Delete(ctx context.Context, userID, id string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository stores conversations in the conversations table.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Insert(ctx context.Context, m *models.ConversationModel) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *gormRepository) Update(ctx context.Context, m *models.ConversationModel) error {
	res := r.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("id = ? AND user_id = ?", m.ID, m.UserID).
		Select("title", "messages", "updated_at").
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRepository) Get(ctx context.Context, userID, id string) (models.ConversationModel, error) {
	var m models.ConversationModel
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return m, ErrNotFound
	}
	return m, err
}

func (r *gormRepository) List(ctx context.Context, userID string, q pagination.Query) ([]models.ConversationModel, response.Pagination, error) {
	tx := r.db.WithContext(ctx).Model(&models.ConversationModel{}).Where("user_id = ?", userID)
	var items []models.ConversationModel
	pag, err := pagination.Paginate(tx, q, &items)
	return items, pag, err
}

func (r *gormRepository) Delete(ctx context.Context, userID, id string) error {
	return r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.ConversationModel{}).Error
}
