package pagination

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/pkg/response"
	"gorm.io/gorm"
)

const (
	DefaultPage = 1
	DefaultSize = 20
	MaxSize     = 100
)

// Query holds parsed pagination and ordering parameters.
type Query struct {
	Page int
	Size int
	Sort string
	Desc bool
}

// FromContext extracts page, size and an optional sort column. Only columns in
// sortable are accepted; anything else falls back to the first entry, newest first.
func FromContext(c *gin.Context, sortable ...string) Query {
	q := Query{
		Page: parseIntOr(c.DefaultQuery("page", "1"), DefaultPage),
		Size: parseIntOr(c.DefaultQuery("size", strconv.Itoa(DefaultSize)), DefaultSize),
		Desc: true,
	}
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.Size < 1 {
		q.Size = DefaultSize
	}
	if q.Size > MaxSize {
		q.Size = MaxSize
	}

	if len(sortable) > 0 {
		q.Sort = sortable[0]
		requested := strings.TrimSpace(c.Query("sort"))
		for _, col := range sortable {
			if requested == col {
				q.Sort = col
				break
			}
		}
		if strings.EqualFold(c.Query("order"), "asc") {
			q.Desc = false
		}
	}
	return q
}

// Offset is the number of rows skipped before the current page.
func (q Query) Offset() int { return (q.Page - 1) * q.Size }

// Paginate applies ordering and limit/offset to a GORM query and returns the pagination metadata.
func Paginate[T any](db *gorm.DB, q Query, dest *[]T) (response.Pagination, error) {
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return response.Pagination{}, err
	}

	if q.Sort != "" {
		dir := " ASC"
		if q.Desc {
			dir = " DESC"
		}
		db = db.Order(q.Sort + dir)
	}
	if err := db.Offset(q.Offset()).Limit(q.Size).Find(dest).Error; err != nil {
		return response.Pagination{}, err
	}

	totalPage := int((total + int64(q.Size) - 1) / int64(q.Size))

	return response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	}, nil
}

func parseIntOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
