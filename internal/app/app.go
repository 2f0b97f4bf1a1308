package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/config"
	"github.com/prism-ai/prism/internal/database"
	"github.com/prism-ai/prism/internal/middleware"
	"github.com/prism-ai/prism/internal/modules/account"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/modules/conversation"
	"github.com/prism-ai/prism/internal/modules/files"
	"github.com/prism-ai/prism/internal/modules/gateway"
	"github.com/prism-ai/prism/internal/modules/settings"
	"github.com/prism-ai/prism/internal/pkg/jwt"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
	pkgredis "github.com/prism-ai/prism/internal/pkg/redis"
	"github.com/prism-ai/prism/internal/pkg/retry"
	"github.com/prism-ai/prism/internal/pkg/secretbox"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	store  kvstore.Store
	logger *zap.Logger

	verifier      *jwt.Verifier
	ai            *aiComponents
	files         *files.Service
	conversations *conversation.Service
	settings      *settings.Service
	account       *account.Service
	gateway       *gateway.Hub
	stopGateway   context.CancelFunc
}

type aiComponents struct {
	registry   *ai.Registry
	usage      *ai.UsageTracker
	dispatcher *ai.Dispatcher
	chat       *ai.ChatService
	media      *ai.MediaService
	tester     *ai.KeyTester
}

// New initializes the application: config → DB → Redis → services → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := applyRuntimeSettings(cfg); err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	var (
		rc    *pkgredis.Client
		store kvstore.Store = kvstore.NewMemory()
	)
	if cfg.Redis.URL != "" {
		rc, err = pkgredis.Connect(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		store = kvstore.NewRedis(rc)
	} else {
		logger.Warn("redis.url is empty, client state is kept in memory and rate limiting is off")
	}

	a := &App{cfg: cfg, db: db, rc: rc, store: store, logger: logger}
	if err := a.buildServices(); err != nil {
		return nil, err
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(corsConfig(cfg)))
	a.router = router
	a.registerRoutes()

	return a, nil
}

func retryOptions(cfg config.RetryConfig, logger *zap.Logger) retry.Options {
	opts := retry.DefaultOptions()
	opts.MaxRetries = cfg.MaxRetries
	opts.InitialDelay = cfg.InitialDelay
	opts.MaxDelay = cfg.MaxDelay
	opts.Multiplier = cfg.Multiplier
	opts.Notify = func(err error, attempt int, wait time.Duration) {
		logger.Warn("retrying provider call", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
	return opts
}

func (a *App) buildServices() error {
	cfg, logger := a.cfg, a.logger

	registry, err := ai.NewRegistry(ai.WithDisabled(ai.DefaultProviders(), cfg.AI.DisabledProviders, cfg.AI.DisabledModels))
	if err != nil {
		return fmt.Errorf("provider registry: %w", err)
	}
	usage := ai.NewUsageTracker(cfg.AI.DailyLimit, a.db, logger)

	var proxy *ai.Proxy
	if cfg.Supabase.UseProxy {
		if proxy = ai.NewProxy(cfg.Supabase.URL, cfg.Supabase.AnonKey, usage, logger); proxy == nil {
			logger.Warn("supabase.use_proxy is on but supabase.url or supabase.anon_key is missing")
		}
	}
	gemini := ai.NewGeminiClient(cfg.Gemini.BaseURL, proxy)
	keys := ai.KeyResolver{GeminiKey: cfg.Gemini.APIKey, ProxyEnabled: proxy != nil}
	if cfg.Gemini.APIKey == "" && proxy == nil {
		logger.Warn("no Gemini API key configured; set " + ai.EnvGeminiKey)
	}

	perplexity := ai.NewPerplexityProvider(cfg.Providers.PerplexityBaseURL)
	dispatcher := ai.NewDispatcher(registry, keys, usage, logger,
		ai.NewGoogleProvider(gemini, cfg.AI.ThinkingBudget),
		ai.NewOpenAIProvider(cfg.Providers.OpenAIBaseURL),
		ai.NewAnthropicProvider(cfg.Providers.AnthropicBaseURL),
		perplexity,
	)
	opts := retryOptions(cfg.AI.Retry, logger.Named("retry"))
	dispatcher.SetRetry(opts, cfg.AI.Retry.Analysis)

	media := ai.NewMediaService(gemini, keys, usage, logger)
	media.SetRetry(opts)

	a.ai = &aiComponents{
		registry:   registry,
		usage:      usage,
		dispatcher: dispatcher,
		chat:       ai.NewChatService(registry, gemini, keys, usage, cfg.AI.ThinkingBudget, logger),
		media:      media,
		tester:     ai.NewKeyTester(registry, ai.NewGeminiClient(cfg.Gemini.BaseURL, nil), perplexity, cfg.Providers.OpenAIBaseURL, cfg.Providers.AnthropicBaseURL),
	}

	objects, err := files.NewObjectStore(cfg.Storage, cfg.StorageDir())
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	var fileRegistry files.Registry = files.NewMemoryRegistry()
	if a.rc != nil {
		fileRegistry = files.NewRedisRegistry(a.rc)
	}
	a.files = files.NewService(fileRegistry, objects, dispatcher, apiPrefix+"/files", logger)

	a.conversations = conversation.NewService(conversation.NewRepository(a.db), a.ai.chat, cfg.Conversation.SaveDebounce, logger)

	var box *secretbox.Box
	if cfg.SecretKey != "" {
		if box, err = secretbox.New(cfg.SecretKey); err != nil {
			return fmt.Errorf("secret_key: %w", err)
		}
		if a.rc != nil {
			a.store = kvstore.Sealed(a.store, box)
		}
	} else {
		logger.Warn("secret_key is empty, provider keys of signed-in users are not saved to the database")
		if a.rc != nil {
			logger.Warn("secret_key is empty, client state is kept in redis unencrypted")
		}
	}
	a.settings = settings.NewService(registry, a.db, box, a.ai.tester, cfg.Gemini.APIKey, logger)
	a.account = account.NewService(a.db, usage)

	a.verifier = jwt.NewVerifier(cfg.Supabase.JWTSecret)
	if a.verifier == nil {
		logger.Warn("supabase.jwt_secret is empty, every request is treated as anonymous")
	}

	a.gateway = gateway.NewHub(a.rc, a.verifier, logger)
	a.files.SetNotifier(a.gateway)
	ctx, cancel := context.WithCancel(context.Background())
	a.stopGateway = cancel
	go a.gateway.Run(ctx)
	go relayStoreChanges(ctx, a.store, a.gateway, logger.Named("kvstore"))
	return nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown saves pending conversations, waits for background analyses and
// releases connections.
func (a *App) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.conversations.Flush()
		a.files.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown deadline reached before background work finished")
	}
	a.stopGateway()

	if a.rc != nil {
		if err := a.rc.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
}

var processStart = time.Now()
