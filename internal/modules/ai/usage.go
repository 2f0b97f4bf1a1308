package ai

import (
	"context"
	"time"

	"github.com/prism-ai/prism/internal/models"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Storage keys inside a client scope.
const (
	KeyUsageCount  = "apiUsageCount"
	KeyUsageDate   = "apiUsageDate"
	KeyUsageServer = "apiUsage"
)

// DefaultDailyLimit is the documented free-tier request allowance.
const DefaultDailyLimit = 1500

const dateLayout = "2006-01-02"

// Usage snapshot sources.
const (
	UsageSourceLocal  = "local"
	UsageSourceServer = "server"
)

// UsageSnapshot is the usage view shown to clients.
type UsageSnapshot struct {
	Date      string `json:"date"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Source    string `json:"source"`
}

type serverUsage struct {
	Date      string `json:"date"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
}

// UsageTracker keeps an advisory per-client daily request count. The count
// is a read-modify-write on the client's store, so concurrent requests from
// the same client can lose an increment.
type UsageTracker struct {
	limit int
	db    *gorm.DB
	log   *zap.Logger
	now   func() time.Time
}

// NewUsageTracker builds a tracker. db may be nil, in which case the count is
// not mirrored for signed-in users.
func NewUsageTracker(limit int, db *gorm.DB, log *zap.Logger) *UsageTracker {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UsageTracker{limit: limit, db: db, log: log, now: time.Now}
}

// SetClock replaces the time source.
func (u *UsageTracker) SetClock(now func() time.Time) { u.now = now }

// Limit is the configured daily allowance.
func (u *UsageTracker) Limit() int { return u.limit }

func (u *UsageTracker) today() string { return u.now().Format(dateLayout) }

// Track counts one request for the caller in ctx. A stored date other than
// today resets the count to 1.
func (u *UsageTracker) Track(ctx context.Context) error {
	scope, ok := clientscope.From(ctx)
	if !ok || scope.Store == nil {
		return nil
	}
	store := scope.Store
	today := u.today()

	date, _, err := store.Get(ctx, KeyUsageDate)
	if err != nil {
		return err
	}
	count := 1
	if date == today {
		prev, err := kvstore.GetInt(ctx, store, KeyUsageCount, 0)
		if err != nil {
			return err
		}
		count = prev + 1
	} else if err := store.Set(ctx, KeyUsageDate, today); err != nil {
		return err
	}
	if err := kvstore.SetInt(ctx, store, KeyUsageCount, count); err != nil {
		return err
	}

	if scope.Authenticated() {
		u.mirror(ctx, scope.UserID, today, count)
	}
	return nil
}

func (u *UsageTracker) mirror(ctx context.Context, userID, date string, count int) {
	if u.db == nil {
		return
	}
	row := models.APIUsageModel{UserID: userID, Date: date, Count: count}
	err := u.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"count", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		u.log.Warn("mirror api usage failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Count returns today's local count for the caller.
func (u *UsageTracker) Count(ctx context.Context) (int, error) {
	scope, ok := clientscope.From(ctx)
	if !ok || scope.Store == nil {
		return 0, nil
	}
	date, _, err := scope.Store.Get(ctx, KeyUsageDate)
	if err != nil {
		return 0, err
	}
	if date != u.today() {
		return 0, nil
	}
	return kvstore.GetInt(ctx, scope.Store, KeyUsageCount, 0)
}

// RecordServerSnapshot stores the authoritative usage reported by the edge proxy.
func (u *UsageTracker) RecordServerSnapshot(ctx context.Context, used, remaining, limit int) error {
	scope, ok := clientscope.From(ctx)
	if !ok || scope.Store == nil {
		return nil
	}
	return kvstore.SetJSON(ctx, scope.Store, KeyUsageServer, serverUsage{
		Date:      u.today(),
		Used:      used,
		Remaining: remaining,
		Limit:     limit,
	})
}

// Snapshot prefers a same-day server snapshot and falls back to the local count.
func (u *UsageTracker) Snapshot(ctx context.Context) (UsageSnapshot, error) {
	today := u.today()
	if scope, ok := clientscope.From(ctx); ok && scope.Store != nil {
		var srv serverUsage
		found, err := kvstore.GetJSON(ctx, scope.Store, KeyUsageServer, &srv)
		if err != nil {
			return UsageSnapshot{}, err
		}
		if found && srv.Date == today {
			limit := srv.Limit
			if limit <= 0 {
				limit = u.limit
			}
			return UsageSnapshot{
				Date:      today,
				Count:     srv.Used,
				Limit:     limit,
				Remaining: max(srv.Remaining, 0),
				Source:    UsageSourceServer,
			}, nil
		}
	}

	count, err := u.Count(ctx)
	if err != nil {
		return UsageSnapshot{}, err
	}
	return UsageSnapshot{
		Date:      today,
		Count:     count,
		Limit:     u.limit,
		Remaining: max(u.limit-count, 0),
		Source:    UsageSourceLocal,
	}, nil
}
