package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prism-ai/prism/internal/models"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/secretbox"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrManagedKey is returned for providers whose key is configured on the server.
var ErrManagedKey = errors.New("this provider's key is managed by the server")

// KeyTester checks a provider key with a live call.
type KeyTester interface {
	Test(ctx context.Context, providerID, apiKey string) error
}

// KeyStatus describes the key a client has for one provider.
type KeyStatus struct {
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	Configured   bool   `json:"configured"`
	Managed      bool   `json:"managed"`
	Masked       string `json:"masked,omitempty"`
}

// TestResult is the outcome of a key connection test.
type TestResult struct {
	OK       bool         `json:"ok"`
	Message  string       `json:"message"`
	Kind     ai.ErrorKind `json:"kind,omitempty"`
	Guidance string       `json:"guidance,omitempty"`
}

// Service reads and writes client settings. Provider keys live in the client
// scope; signed-in users also keep an encrypted copy in user_api_keys.
type Service struct {
	registry  *ai.Registry
	db        *gorm.DB
	box       *secretbox.Box
	tester    KeyTester
	geminiKey string
	log       *zap.Logger

	hydrated sync.Map
}

// NewService wires the settings service. db and box may be nil, in which case
// keys are kept in the client scope only.
func NewService(registry *ai.Registry, db *gorm.DB, box *secretbox.Box, tester KeyTester, geminiKey string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		registry:  registry,
		db:        db,
		box:       box,
		tester:    tester,
		geminiKey: strings.TrimSpace(geminiKey),
		log:       log.Named("settings"),
	}
}

func (s *Service) persistent() bool {
	return s.db != nil && s.box != nil
}

func mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("•", len(key))
	}
	return "••••" + key[len(key)-4:]
}

func last4(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}

func additional(userID, providerID string) string {
	return userID + ":" + providerID
}

func (s *Service) provider(providerID string) (ai.Provider, error) {
	p, ok := s.registry.Provider(strings.ToLower(strings.TrimSpace(providerID)))
	if !ok {
		return ai.Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}
	return p, nil
}

// ListKeys reports every provider with the caller's masked key.
func (s *Service) ListKeys(ctx context.Context) ([]KeyStatus, error) {
	store, err := storeOf(ctx)
	if err != nil {
		return nil, err
	}
	providers := s.registry.Providers()
	out := make([]KeyStatus, 0, len(providers))
	for _, p := range providers {
		st := KeyStatus{ProviderID: p.ID, ProviderName: p.Name}
		if p.ID == ai.ProviderGoogle {
			st.Managed = true
			st.Configured = s.geminiKey != ""
			out = append(out, st)
			continue
		}
		key, ok, err := store.Get(ctx, ai.KeyName(p.ID))
		if err != nil {
			return nil, err
		}
		if key = strings.TrimSpace(key); ok && key != "" {
			st.Configured = true
			st.Masked = mask(key)
		}
		out = append(out, st)
	}
	return out, nil
}

// SetKey stores the caller's key for providerID.
func (s *Service) SetKey(ctx context.Context, providerID, key string) (KeyStatus, error) {
	p, err := s.provider(providerID)
	if err != nil {
		return KeyStatus{}, err
	}
	if p.ID == ai.ProviderGoogle {
		return KeyStatus{}, ErrManagedKey
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return KeyStatus{}, ai.MissingKeyError(p.ID)
	}
	scope, ok := clientscope.From(ctx)
	if !ok {
		return KeyStatus{}, ErrNoScope
	}
	if err := scope.Store.Set(ctx, ai.KeyName(p.ID), key); err != nil {
		return KeyStatus{}, err
	}

	if scope.Authenticated() && s.persistent() {
		sealed, err := s.box.Seal(key, additional(scope.UserID, p.ID))
		if err != nil {
			return KeyStatus{}, err
		}
		row := models.UserAPIKeyModel{UserID: scope.UserID, ProviderID: p.ID, Ciphertext: sealed, Last4: last4(key)}
		err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "last4", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return KeyStatus{}, fmt.Errorf("save api key: %w", err)
		}
	}
	s.log.Info("api key stored", zap.String("scope", scope.ID), zap.String("provider", p.ID))
	return KeyStatus{ProviderID: p.ID, ProviderName: p.Name, Configured: true, Masked: mask(key)}, nil
}

// DeleteKey removes the caller's key for providerID.
func (s *Service) DeleteKey(ctx context.Context, providerID string) error {
	p, err := s.provider(providerID)
	if err != nil {
		return err
	}
	if p.ID == ai.ProviderGoogle {
		return ErrManagedKey
	}
	scope, ok := clientscope.From(ctx)
	if !ok {
		return ErrNoScope
	}
	if err := scope.Store.Delete(ctx, ai.KeyName(p.ID)); err != nil {
		return err
	}
	if scope.Authenticated() && s.db != nil {
		err := s.db.WithContext(ctx).Unscoped().
			Where("user_id = ? AND provider_id = ?", scope.UserID, p.ID).
			Delete(&models.UserAPIKeyModel{}).Error
		if err != nil {
			return fmt.Errorf("delete api key: %w", err)
		}
	}
	return nil
}

// TestKey checks key against the provider. An empty key tests the stored
// one (or the server key for Google).
func (s *Service) TestKey(ctx context.Context, providerID, key string) (TestResult, error) {
	p, err := s.provider(providerID)
	if err != nil {
		return TestResult{}, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		if p.ID == ai.ProviderGoogle {
			key = s.geminiKey
		} else if store, err := storeOf(ctx); err == nil {
			key, _, _ = store.Get(ctx, ai.KeyName(p.ID))
		}
	}

	if err := s.tester.Test(ctx, p.ID, key); err != nil {
		kind := ai.KindOf(err, nil)
		return TestResult{OK: false, Message: err.Error(), Kind: kind, Guidance: ai.Guidance(kind)}, nil
	}
	return TestResult{OK: true, Message: fmt.Sprintf("Connected to %s.", p.Name)}, nil
}

// Hydrate copies a signed-in user's saved keys into their scope the first
// time the user is seen by this process. Keys already in the scope win.
func (s *Service) Hydrate(ctx context.Context, scope clientscope.Scope) {
	if !scope.Authenticated() || !s.persistent() {
		return
	}
	if _, loaded := s.hydrated.LoadOrStore(scope.UserID, struct{}{}); loaded {
		return
	}

	var rows []models.UserAPIKeyModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", scope.UserID).Find(&rows).Error; err != nil {
		s.hydrated.Delete(scope.UserID)
		s.log.Warn("load api keys failed", zap.String("user_id", scope.UserID), zap.Error(err))
		return
	}
	for _, row := range rows {
		name := ai.KeyName(row.ProviderID)
		if existing, ok, _ := scope.Store.Get(ctx, name); ok && existing != "" {
			continue
		}
		key, err := s.box.Open(row.Ciphertext, additional(scope.UserID, row.ProviderID))
		if err != nil {
			s.log.Warn("decrypt api key failed", zap.String("user_id", scope.UserID), zap.String("provider", row.ProviderID), zap.Error(err))
			continue
		}
		if err := scope.Store.Set(ctx, name, key); err != nil {
			s.log.Warn("restore api key failed", zap.String("provider", row.ProviderID), zap.Error(err))
		}
	}
}
