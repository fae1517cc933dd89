package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/cache"
	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
	"github.com/00Mars/pet-pawket-sub000/internal/config"
	"github.com/00Mars/pet-pawket-sub000/internal/events"
	"github.com/00Mars/pet-pawket-sub000/internal/httpx"
	"github.com/00Mars/pet-pawket-sub000/internal/logger"
	"github.com/00Mars/pet-pawket-sub000/internal/metrics"
	"github.com/00Mars/pet-pawket-sub000/internal/session"
	"github.com/00Mars/pet-pawket-sub000/internal/shopify"
)

// storefrontAPI is the slice of the Storefront client the handlers call.
type storefrontAPI interface {
	session.CustomerSource

	SearchProducts(ctx context.Context, query string, limit int) ([]catalog.Product, error)
	ProductByHandle(ctx context.Context, handle string) (catalog.Product, error)
	Collections(ctx context.Context, first int) ([]shopify.Collection, error)
	CollectionProducts(ctx context.Context, handle string, limit int) (shopify.Collection, []catalog.Product, error)

	Cart(ctx context.Context, id string) (shopify.Cart, error)
	CreateCart(ctx context.Context, lines []shopify.LineInput, buyerToken string) (shopify.Cart, error)
	AddCartLines(ctx context.Context, cartID string, lines []shopify.LineInput) (shopify.Cart, error)
	UpdateCartLines(ctx context.Context, cartID string, lines []shopify.LineUpdate) (shopify.Cart, error)
	RemoveCartLines(ctx context.Context, cartID string, lineIDs []string) (shopify.Cart, error)

	CreateCustomer(ctx context.Context, in shopify.CustomerInput) (string, error)
	CreateAccessToken(ctx context.Context, email, password string) (shopify.AccessToken, error)
	DeleteAccessToken(ctx context.Context, token string) error
	RecoverCustomer(ctx context.Context, email string) error
}

type service struct {
	name     string
	api      storefrontAPI
	cache    cache.Cache
	events   events.Publisher
	resolver session.Resolver
	cookies  session.Cookies
	log      *logger.Logger
	metrics  *metrics.Metrics

	catalogTTL     time.Duration
	poolSize       int
	authRateLimit  int
	allowedOrigins []string
}

func newService(cfg config.Config, api storefrontAPI, resolver session.Resolver, c cache.Cache, pub events.Publisher, log *logger.Logger, m *metrics.Metrics) *service {
	return &service{
		name:           cfg.ServiceName,
		api:            api,
		cache:          c,
		events:         pub,
		resolver:       resolver,
		cookies:        session.Cookies{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain},
		log:            log,
		metrics:        m,
		catalogTTL:     cfg.CatalogCacheTTL,
		poolSize:       cfg.CatalogPoolSize,
		authRateLimit:  cfg.AuthRateLimit,
		allowedOrigins: cfg.AllowedOrigins,
	}
}

// ---------------------------------------------------------------------------
// main
// ---------------------------------------------------------------------------

func main() {
	cfg := config.Load("storefront-service")
	log := logger.New(cfg.LogLevel, cfg.LogFormat).Named(cfg.ServiceName)
	defer func() { _ = log.Sync() }()

	if cfg.Shopify.StoreDomain == "" || cfg.Shopify.StorefrontToken == "" {
		log.Fatal("SHOPIFY_STORE_DOMAIN and SHOPIFY_STOREFRONT_TOKEN are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(cfg.ServiceName)
	c := cache.Open(ctx, cfg.RedisURL, "pawket:storefront", log)
	pub := events.Open(cfg.NATSURL, cfg.ServiceName, log, m)
	defer func() { _ = pub.Close() }()

	api := shopify.New(cfg.Shopify, shopify.WithMetrics(m), shopify.WithLogger(log))
	sessions := session.OpenCache(ctx, cfg.RedisURL, log)
	svc := newService(cfg, api, session.NewResolver(api, sessions, m), c, pub, log, m)
	srv := httpx.NewServer(cfg.Port, svc.routes())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("storefront-service listening", "port", cfg.Port, "cache", c.Mode(), "shop", cfg.Shopify.StoreDomain)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped", "error", err)
	}
}

func (s *service) routes() http.Handler {
	r := httpx.NewRouter(httpx.RouterOptions{Logger: s.log, Metrics: s.metrics, AllowedOrigins: s.allowedOrigins})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": s.name, "mode": s.cache.Mode()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/products", s.handleListProducts)
		r.Get("/products/{handle}", s.handleGetProduct)
		r.Get("/collections", s.handleListCollections)
		r.Get("/collections/{handle}/products", s.handleCollectionProducts)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.handleGetCart)
			r.Post("/", s.handleCreateCart)
			r.Post("/lines", s.handleAddLines)
			r.Patch("/lines", s.handleUpdateLines)
			r.Delete("/lines", s.handleRemoveLines)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.authLimiter())
				r.Post("/register", s.handleRegister)
				r.Post("/login", s.handleLogin)
				r.Post("/recover", s.handleRecover)
			})
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
		})
	})
	return r
}

// authLimiter throttles credential endpoints per client IP.
func (s *service) authLimiter() func(http.Handler) http.Handler {
	limit := s.authRateLimit
	if limit <= 0 {
		limit = 10
	}
	return httprate.Limit(limit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteError(w, r, apperr.New(apperr.CodeRateLimited, "too many attempts, try again shortly"))
		}),
	)
}

// publish emits ev and logs failures; the request has already succeeded.
func (s *service) publish(ctx context.Context, topic, customerID string, data any) {
	if err := s.events.Publish(ctx, events.NewEvent(s.name, topic, customerID, data)); err != nil {
		s.log.Warn("event publish failed", "topic", topic, "error", err)
	}
}
