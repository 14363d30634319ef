package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/aretw0/vellora/internal/config"
	"github.com/aretw0/vellora/internal/logging"
	httpAdapter "github.com/aretw0/vellora/pkg/adapters/http"
	mcpAdapter "github.com/aretw0/vellora/pkg/adapters/mcp"
	"github.com/aretw0/vellora/pkg/adapters/memory"
	"github.com/aretw0/vellora/pkg/adapters/redis"
	"github.com/aretw0/vellora/pkg/adapters/sqlite"
	"github.com/aretw0/vellora/pkg/adapters/stripe"
	"github.com/aretw0/vellora/pkg/adapters/telegram"
	"github.com/aretw0/vellora/pkg/billing"
	"github.com/aretw0/vellora/pkg/codes"
	"github.com/aretw0/vellora/pkg/controller"
	"github.com/aretw0/vellora/pkg/credential"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/engine"
	"github.com/aretw0/vellora/pkg/observability"
	"github.com/aretw0/vellora/pkg/persistence/middleware"
	"github.com/aretw0/vellora/pkg/ports"
	"github.com/aretw0/vellora/pkg/session"
)

// App is the wired Vellora process: one store, one registry, one controller.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Store      ports.Store
	Codes      *MeteredCodes
	Gateway    *session.Gateway
	Engine     *engine.Engine
	Billing    *billing.Service
	Messenger  ports.Messenger
	Controller *controller.Controller

	webhook *stripe.Webhook
	closers []io.Closer
}

type buildOptions struct {
	messenger ports.Messenger
	store     ports.Store
	hooks     []domain.LifecycleHooks
}

// BuildOption adjusts how Build wires the process.
type BuildOption func(*buildOptions)

// WithMessenger replaces the configured transport, e.g. with the console in chat mode.
func WithMessenger(m ports.Messenger) BuildOption {
	return func(o *buildOptions) {
		o.messenger = m
	}
}

// WithStore replaces the configured backend. The middleware chain still applies.
func WithStore(s ports.Store) BuildOption {
	return func(o *buildOptions) {
		o.store = s
	}
}

// WithHooks chains extra lifecycle hooks after the metrics hooks.
func WithHooks(hooks ...domain.LifecycleHooks) BuildOption {
	return func(o *buildOptions) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// NewLogger builds the process logger from the configuration.
func NewLogger(cfg config.Config) *slog.Logger {
	if cfg.LogFormat == "json" {
		return logging.NewJSON(os.Stderr, cfg.Level())
	}
	return logging.New(cfg.Level())
}

// Build wires every component from cfg. Callers must Close the App.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...BuildOption) (_ *App, err error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	backend, locker, err := app.openStore(ctx, o.store)
	if err != nil {
		return nil, err
	}

	encryption, err := cfg.Encryption()
	if err != nil {
		return nil, err
	}
	mws := []middleware.Middleware{
		middleware.NewCredentialGuard(),
		middleware.NewCache(cfg.CacheTTL),
	}
	if encryption != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(*encryption))
	}
	mws = append(mws, middleware.NewInstrumentation(app.Metrics))
	app.Store = middleware.Chain(backend, mws...)

	redeemable, err := cfg.Redeemable()
	if err != nil {
		return nil, err
	}
	registry := codes.NewRegistry(app.Store,
		codes.WithRedeemable(redeemable...),
		codes.WithLogger(logger),
	)
	app.Codes = NewMeteredCodes(registry, app.Metrics)

	gatewayOpts := []session.Option{
		session.WithLockTTL(cfg.LockTTL),
		session.WithLogger(logger),
	}
	if locker != nil {
		gatewayOpts = append(gatewayOpts, session.WithLocker(locker))
	}
	app.Gateway = session.NewGateway(app.Store, gatewayOpts...)

	prompts := engine.DefaultPrompts()
	if cfg.PromptsFile != "" {
		prompts, err = engine.LoadPrompts(cfg.PromptsFile)
		if err != nil {
			return nil, err
		}
	}
	app.Engine = engine.New(registry, credential.NewHasher(cfg.BcryptCost),
		engine.WithPrompts(prompts),
		engine.WithLogger(logger),
	)

	app.Billing = billing.NewService(app.Codes, app.payments(),
		billing.WithPublicURL(cfg.PublicURL),
		billing.WithLogger(logger),
	)
	if cfg.StripeWebhookSecret != "" {
		app.webhook = stripe.NewWebhook(cfg.StripeWebhookSecret)
	}

	app.Messenger = o.messenger
	if app.Messenger == nil {
		app.Messenger = app.transport()
	}

	app.Controller = controller.New(app.Engine, app.Gateway, app.Messenger,
		controller.WithAttempts(cfg.CommitAttempts),
		controller.WithMaxInputSize(cfg.MaxInputSize),
		controller.WithLifecycleHooks(app.Metrics.Hooks(o.hooks...)),
		controller.WithLogger(logger),
	)

	logger.Debug("Vellora wired", "store", cfg.Store, "encryption", encryption != nil, "cache_ttl", cfg.CacheTTL)
	return app, nil
}

func (a *App) openStore(ctx context.Context, override ports.Store) (ports.Store, ports.DistributedLocker, error) {
	if override != nil {
		return override, nil, nil
	}
	switch a.Config.Store {
	case config.StoreRedis:
		store := redis.New(a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB,
			redis.WithPrefix(a.Config.RedisPrefix))
		a.closers = append(a.closers, store)
		if err := store.Client().Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect redis %s: %w", a.Config.RedisAddr, err)
		}
		return store, redis.NewLocker(store.Client(), a.Config.RedisPrefix), nil
	case config.StoreSQLite:
		store, err := sqlite.Open(a.Config.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil, nil
	case config.StoreMemory:
		a.Logger.Warn("Using the in-memory store; records are lost on exit")
		return memory.NewStore(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", a.Config.Store)
}

func (a *App) payments() ports.PaymentProcessor {
	if a.Config.StripeSecretKey != "" {
		return stripe.New(a.Config.StripeSecretKey)
	}
	a.Logger.Info("No payment processor key; checkouts are simulated")
	return memory.NewPayments()
}

// transport falls back to printing replies on stderr, keeping stdout free
// for the MCP stdio transport.
func (a *App) transport() ports.Messenger {
	if a.Config.TelegramToken == "" {
		return NewConsole(os.Stderr, nil)
	}
	opts := []telegram.Option{telegram.WithLogger(a.Logger)}
	if a.Config.TelegramAPIURL != "" {
		opts = append(opts, telegram.WithBaseURL(a.Config.TelegramAPIURL))
	}
	return telegram.NewClient(a.Config.TelegramToken, opts...)
}

// HTTPHandler builds the public HTTP surface.
func (a *App) HTTPHandler() (http.Handler, error) {
	opts := []httpAdapter.Option{
		httpAdapter.WithMetrics(a.Metrics),
		httpAdapter.WithTelegramSecret(a.Config.TelegramSecretToken),
		httpAdapter.WithEventsToken(a.Config.EventsToken),
		httpAdapter.WithLogger(a.Logger),
	}
	if a.Config.EventsToken == "" {
		a.Logger.Info("Event endpoint disabled", "reason", "VELLORA_EVENTS_TOKEN not set")
	}
	if a.Config.TelegramToken != "" && a.Config.TelegramSecretToken == "" {
		a.Logger.Warn("Telegram webhook accepts unsigned updates", "reason", "VELLORA_TELEGRAM_SECRET_TOKEN not set")
	}
	if a.webhook != nil {
		opts = append(opts, httpAdapter.WithPaymentWebhook(a.webhook))
	}
	return httpAdapter.NewHandler(a.Controller, a.Billing, opts...)
}

// MCPServer builds the operator tool server.
func (a *App) MCPServer() *mcpAdapter.Server {
	return mcpAdapter.NewServer(a.Controller, a.Gateway, a.Codes, a.Billing.Catalogue(),
		mcpAdapter.WithLogger(a.Logger))
}

// Close releases the store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// MeteredCodes counts issued and confirmed codes on top of the registry.
type MeteredCodes struct {
	*codes.Registry
	metrics *observability.Metrics
}

// NewMeteredCodes wraps registry.
func NewMeteredCodes(registry *codes.Registry, metrics *observability.Metrics) *MeteredCodes {
	return &MeteredCodes{Registry: registry, metrics: metrics}
}

// Generate mints a code and counts it per plan.
func (m *MeteredCodes) Generate(ctx context.Context, plan string) (*domain.ActivationCode, error) {
	code, err := m.Registry.Generate(ctx, plan)
	if err == nil {
		m.metrics.CodesGenerated.WithLabelValues(plan).Inc()
	}
	return code, err
}

// Confirm marks a code paid and counts it.
func (m *MeteredCodes) Confirm(ctx context.Context, code string) (*domain.ActivationCode, error) {
	out, err := m.Registry.Confirm(ctx, code)
	if err == nil {
		m.metrics.CodesConfirmed.Inc()
	}
	return out, err
}
