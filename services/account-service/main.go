package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/cache"
	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
	"github.com/00Mars/pet-pawket-sub000/internal/config"
	"github.com/00Mars/pet-pawket-sub000/internal/db"
	"github.com/00Mars/pet-pawket-sub000/internal/events"
	"github.com/00Mars/pet-pawket-sub000/internal/httpx"
	"github.com/00Mars/pet-pawket-sub000/internal/logger"
	"github.com/00Mars/pet-pawket-sub000/internal/metrics"
	"github.com/00Mars/pet-pawket-sub000/internal/session"
	"github.com/00Mars/pet-pawket-sub000/internal/shopify"
)

// productSource is the part of the Storefront client used for wishlist
// hydration and recommendation candidates.
type productSource interface {
	SearchProducts(ctx context.Context, query string, limit int) ([]catalog.Product, error)
	ProductByHandle(ctx context.Context, handle string) (catalog.Product, error)
}

type service struct {
	name     string
	db       *sql.DB
	cache    cache.Cache
	events   events.Publisher
	products productSource
	resolver session.Resolver
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	cacheTTL       time.Duration
	catalogTTL     time.Duration
	poolSize       int
	maxPets        int
	maxWishlist    int
	allowedOrigins []string

	memMu sync.RWMutex
	mem   memoryStore
}

// memoryStore holds every table when Postgres is unavailable.
type memoryStore struct {
	pets      map[string]pet
	journals  map[string]journalEntry
	addresses map[string]address
	handles   map[string]map[string]map[string]handleItem // list -> customer -> handle
}

func newMemoryStore() memoryStore {
	return memoryStore{
		pets:      make(map[string]pet),
		journals:  make(map[string]journalEntry),
		addresses: make(map[string]address),
		handles:   make(map[string]map[string]map[string]handleItem),
	}
}

func newService(cfg config.Config, database *sql.DB, products productSource, resolver session.Resolver, c cache.Cache, pub events.Publisher, log *logger.Logger, m *metrics.Metrics) *service {
	return &service{
		name:           cfg.ServiceName,
		db:             database,
		cache:          c,
		events:         pub,
		products:       products,
		resolver:       resolver,
		log:            log,
		metrics:        m,
		now:            func() time.Time { return time.Now().UTC() },
		cacheTTL:       cfg.CacheTTL,
		catalogTTL:     cfg.CatalogCacheTTL,
		poolSize:       cfg.CatalogPoolSize,
		maxPets:        cfg.MaxPetsPerCustomer,
		maxWishlist:    cfg.MaxWishlistItems,
		allowedOrigins: cfg.AllowedOrigins,
		mem:            newMemoryStore(),
	}
}

// ---------------------------------------------------------------------------
// main
// ---------------------------------------------------------------------------

func main() {
	cfg := config.Load("account-service")
	log := logger.New(cfg.LogLevel, cfg.LogFormat).Named(cfg.ServiceName)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(cfg.ServiceName)
	c := cache.Open(ctx, cfg.RedisURL, "pawket:account", log)
	pub := events.Open(cfg.NATSURL, cfg.ServiceName, log, m)
	defer func() { _ = pub.Close() }()

	api := shopify.New(cfg.Shopify, shopify.WithMetrics(m), shopify.WithLogger(log))
	sessions := session.OpenCache(ctx, cfg.RedisURL, log)
	svc := newService(cfg, nil, api, session.NewResolver(api, sessions, m), c, pub, log, m)

	if database, err := db.Connect(ctx, cfg.Database); err != nil {
		log.Warn("database unavailable, running account-service in memory mode", "error", err)
	} else {
		svc.db = database
		if err := svc.ensureSchema(ctx); err != nil {
			log.Warn("schema setup failed, using memory mode", "error", err)
			_ = svc.db.Close()
			svc.db = nil
		}
	}
	defer func() {
		if svc.db != nil {
			_ = svc.db.Close()
		}
	}()

	srv := httpx.NewServer(cfg.Port, svc.routes())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("account-service listening", "port", cfg.Port, "mode", svc.mode(), "cache", c.Mode())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped", "error", err)
	}
}

func (s *service) mode() string {
	if s.db == nil {
		return "memory"
	}
	return "postgres"
}

func (s *service) routes() http.Handler {
	r := httpx.NewRouter(httpx.RouterOptions{Logger: s.log, Metrics: s.metrics, AllowedOrigins: s.allowedOrigins})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": s.name, "mode": s.mode()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(session.Middleware(s.resolver, s.log))

		r.Route("/pets", func(r chi.Router) {
			r.Get("/", s.handleListPets)
			r.Post("/", s.handleCreatePet)
			r.Get("/_explain", s.handleExplainPets)
			r.Route("/{petID}", func(r chi.Router) {
				r.Get("/", s.handleGetPet)
				r.Patch("/", s.handleUpdatePet)
				r.Put("/", s.handleUpdatePet)
				r.Delete("/", s.handleDeletePet)
				r.Get("/recommendations", s.handleRecommendations)

				r.Get("/journals", s.handleListJournals)
				r.Post("/journals", s.handleCreateJournal)
				r.Get("/journals/{id}", s.handleGetJournal)
				r.Patch("/journals/{id}", s.handleUpdateJournal)
				r.Delete("/journals/{id}", s.handleDeleteJournal)
			})
		})

		r.Route("/addresses", func(r chi.Router) {
			r.Get("/", s.handleListAddresses)
			r.Post("/", s.handleCreateAddress)
			r.Get("/{id}", s.handleGetAddress)
			r.Patch("/{id}", s.handleUpdateAddress)
			r.Delete("/{id}", s.handleDeleteAddress)
			r.Post("/{id}/default", s.handleSetDefaultAddress)
		})

		r.Get("/wishlist", s.handleListHandles(wishlist))
		r.Post("/wishlist", s.handleAddHandle(wishlist))
		r.Get("/wishlist/products", s.handleWishlistProducts)
		r.Delete("/wishlist/{handle}", s.handleRemoveHandle(wishlist))

		r.Get("/dislikes", s.handleListHandles(dislikes))
		r.Post("/dislikes", s.handleAddHandle(dislikes))
		r.Delete("/dislikes/{handle}", s.handleRemoveHandle(dislikes))
	})
	return r
}

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// customerID is the row owner for the request. session.Middleware guarantees
// it is set on /v1 routes.
func customerID(r *http.Request) string {
	cu, _ := session.CustomerFrom(r.Context())
	return cu.ID
}

func urlID(r *http.Request, key string) string {
	return strings.TrimSpace(chi.URLParam(r, key))
}

// publish emits an event after a successful write. Failures are logged only.
func (s *service) publish(ctx context.Context, topic, customerID string, data any) {
	if err := s.events.Publish(ctx, events.NewEvent(s.name, topic, customerID, data)); err != nil {
		s.log.Warn("event publish failed", "topic", topic, "error", err)
	}
}

// ---------------------------------------------------------------------------
// List cache
// ---------------------------------------------------------------------------

// Only first pages are cached, keyed "<customer>|<resource>|...", and every
// write to a resource drops the customer's keys for it.
func listCacheKey(customer, resource string, parts ...string) string {
	return cache.Key(append([]string{customer, resource}, parts...)...)
}

func (s *service) invalidate(ctx context.Context, customer, resource string) {
	if customer == "" {
		return
	}
	if err := s.cache.DeletePrefix(ctx, cache.Key(customer, resource)+"|"); err != nil {
		s.log.Warn("list cache invalidation failed", "resource", resource, "error", err)
	}
}

func (s *service) cachedList(ctx context.Context, key string, dest any) bool {
	ok, err := s.cache.Get(ctx, key, dest)
	hit := err == nil && ok
	s.metrics.CacheLookup("account_lists", hit)
	return hit
}

func (s *service) storeList(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.log.Warn("list cache write failed", "error", err)
	}
}

func notFound(resource string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(resource)
	}
	return err
}
