// Package session keeps the customer access token and cart id in httpOnly
// cookies and resolves tokens into Shopify customers.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/cache"
	"github.com/00Mars/pet-pawket-sub000/internal/httpx"
	"github.com/00Mars/pet-pawket-sub000/internal/logger"
	"github.com/00Mars/pet-pawket-sub000/internal/metrics"
	"github.com/00Mars/pet-pawket-sub000/internal/shopify"
)

const (
	CustomerCookie = "pp_customer"
	CartCookie     = "pp_cart"

	// Shopify carts live for about ten days.
	cartCookieTTL = 10 * 24 * time.Hour

	resolveTTL = 5 * time.Minute

	// CacheNamespace is shared by every service resolving sessions so a
	// logout in one evicts the token everywhere.
	CacheNamespace = "pawket:session"
)

// ---------------------------------------------------------------------------
// Cookies
// ---------------------------------------------------------------------------

// Cookies writes the session cookies with the deployment's Secure and
// Domain settings.
type Cookies struct {
	Secure bool
	Domain string
}

func (c Cookies) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetCustomer stores the access token until it expires. A zero expiry
// becomes a browser-session cookie.
func (c Cookies) SetCustomer(w http.ResponseWriter, tok shopify.AccessToken) {
	http.SetCookie(w, c.cookie(CustomerCookie, tok.Token, tok.ExpiresAt))
}

func (c Cookies) ClearCustomer(w http.ResponseWriter) {
	ck := c.cookie(CustomerCookie, "", time.Unix(0, 0))
	ck.MaxAge = -1
	http.SetCookie(w, ck)
}

func (c Cookies) SetCart(w http.ResponseWriter, cartID string) {
	http.SetCookie(w, c.cookie(CartCookie, cartID, time.Now().Add(cartCookieTTL)))
}

func (c Cookies) ClearCart(w http.ResponseWriter) {
	ck := c.cookie(CartCookie, "", time.Unix(0, 0))
	ck.MaxAge = -1
	http.SetCookie(w, ck)
}

// Token returns the customer access token from the pp_customer cookie or an
// "Authorization: Bearer" header, in that order.
func Token(r *http.Request) string {
	if ck, err := r.Cookie(CustomerCookie); err == nil && strings.TrimSpace(ck.Value) != "" {
		return strings.TrimSpace(ck.Value)
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func CartID(r *http.Request) string {
	if ck, err := r.Cookie(CartCookie); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

// Resolver turns an access token into the customer it belongs to.
type Resolver interface {
	Resolve(ctx context.Context, token string) (shopify.Customer, error)
	Evict(ctx context.Context, token string)
}

// CustomerSource is the part of the Storefront client the resolver needs.
type CustomerSource interface {
	Customer(ctx context.Context, token string) (shopify.Customer, error)
}

// CachedResolver asks Shopify once per token and keeps the answer for five
// minutes. Tokens are stored hashed.
type CachedResolver struct {
	source  CustomerSource
	cache   cache.Cache
	metrics *metrics.Metrics
	ttl     time.Duration
}

// OpenCache opens the session cache in CacheNamespace.
func OpenCache(ctx context.Context, url string, log *logger.Logger) cache.Cache {
	return cache.Open(ctx, url, CacheNamespace, log)
}

func NewResolver(source CustomerSource, c cache.Cache, m *metrics.Metrics) *CachedResolver {
	if c == nil {
		c = cache.NewMemory()
	}
	return &CachedResolver{source: source, cache: c, metrics: m, ttl: resolveTTL}
}

func (r *CachedResolver) Resolve(ctx context.Context, token string) (shopify.Customer, error) {
	if token == "" {
		return shopify.Customer{}, apperr.Unauthorized("")
	}
	cu, hit, err := cache.GetOrSet(ctx, r.cache, tokenKey(token), r.ttl, func(ctx context.Context) (shopify.Customer, error) {
		return r.source.Customer(ctx, token)
	})
	r.metrics.CacheLookup("session", hit)
	return cu, err
}

func (r *CachedResolver) Evict(ctx context.Context, token string) {
	if token == "" {
		return
	}
	_ = r.cache.Delete(ctx, tokenKey(token))
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return cache.Key("session", hex.EncodeToString(sum[:]))
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

type ctxKey int

const (
	customerKey ctxKey = iota
	tokenCtxKey
)

// WithCustomer stores the resolved customer and its token on ctx.
func WithCustomer(ctx context.Context, cu shopify.Customer, token string) context.Context {
	ctx = context.WithValue(ctx, customerKey, cu)
	return context.WithValue(ctx, tokenCtxKey, token)
}

// CustomerFrom returns the customer Middleware resolved.
func CustomerFrom(ctx context.Context) (shopify.Customer, bool) {
	cu, ok := ctx.Value(customerKey).(shopify.Customer)
	return cu, ok && cu.ID != ""
}

func TokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenCtxKey).(string)
	return tok
}

// Middleware rejects requests without a valid customer session with 401.
func Middleware(resolver Resolver, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := Token(r)
			if token == "" {
				httpx.WriteError(w, r, apperr.Unauthorized(""))
				return
			}
			cu, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if !apperr.Is(err, apperr.CodeUnauthorized) {
					log.Warn("session lookup failed", "error", err)
				}
				httpx.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCustomer(r.Context(), cu, token)))
		})
	}
}
