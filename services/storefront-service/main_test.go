package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/cache"
	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
	"github.com/00Mars/pet-pawket-sub000/internal/config"
	"github.com/00Mars/pet-pawket-sub000/internal/events"
	"github.com/00Mars/pet-pawket-sub000/internal/logger"
	"github.com/00Mars/pet-pawket-sub000/internal/session"
	"github.com/00Mars/pet-pawket-sub000/internal/shopify"
)

// fakeShop is an in-memory storefrontAPI.
type fakeShop struct {
	mu          sync.Mutex
	products    []catalog.Product
	carts       map[string]shopify.Cart
	buyerTokens map[string]string
	revoked     []string
	searchCalls int
	nextCart    int
}

func newFakeShop() *fakeShop {
	return &fakeShop{
		products: []catalog.Product{
			testProduct("salmon-bites", "Salmon Bites for Dogs", "Treats", 12.5, true, "dog", "treats"),
			testProduct("feather-wand", "Feather Wand", "Toys", 8, true, "cat", "toys"),
			testProduct("orthopedic-bed", "Orthopedic Dog Bed", "Beds", 89, false, "dog"),
			testProduct("rope-tug", "Rope Tug Toy", "Toys", 6.25, true, "toys"),
		},
		carts:       make(map[string]shopify.Cart),
		buyerTokens: make(map[string]string),
	}
}

func testProduct(handle, title, typ string, price float64, available bool, tags ...string) catalog.Product {
	return catalog.Product{
		ID:          "gid://shopify/Product/" + handle,
		Handle:      handle,
		Title:       title,
		ProductType: typ,
		Tags:        tags,
		Price:       price,
		Currency:    "USD",
		Available:   available,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeShop) SearchProducts(_ context.Context, _ string, limit int) ([]catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if limit > len(f.products) {
		limit = len(f.products)
	}
	return append([]catalog.Product(nil), f.products[:limit]...), nil
}

func (f *fakeShop) ProductByHandle(_ context.Context, handle string) (catalog.Product, error) {
	for _, p := range f.products {
		if p.Handle == handle {
			return p, nil
		}
	}
	return catalog.Product{}, apperr.NotFound("product")
}

func (f *fakeShop) Collections(context.Context, int) ([]shopify.Collection, error) {
	return []shopify.Collection{{ID: "gid://shopify/Collection/1", Handle: "toys", Title: "Toys"}}, nil
}

func (f *fakeShop) CollectionProducts(_ context.Context, handle string, _ int) (shopify.Collection, []catalog.Product, error) {
	if handle != "toys" {
		return shopify.Collection{}, nil, apperr.NotFound("collection")
	}
	return shopify.Collection{Handle: "toys", Title: "Toys"}, []catalog.Product{f.products[1], f.products[3]}, nil
}

func (f *fakeShop) Cart(_ context.Context, id string) (shopify.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[id]
	if !ok {
		return shopify.Cart{}, apperr.NotFound("cart")
	}
	return c, nil
}

func (f *fakeShop) CreateCart(_ context.Context, lines []shopify.LineInput, buyerToken string) (shopify.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCart++
	c := shopify.Cart{ID: fmt.Sprintf("gid://shopify/Cart/%d", f.nextCart), CheckoutURL: "https://pawket.myshopify.com/cart/c/1"}
	f.carts[c.ID] = addLines(c, lines)
	f.buyerTokens[c.ID] = buyerToken
	return f.carts[c.ID], nil
}

func (f *fakeShop) AddCartLines(_ context.Context, cartID string, lines []shopify.LineInput) (shopify.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[cartID]
	if !ok {
		return shopify.Cart{}, apperr.NotFound("cart")
	}
	f.carts[cartID] = addLines(c, lines)
	return f.carts[cartID], nil
}

func (f *fakeShop) UpdateCartLines(_ context.Context, cartID string, lines []shopify.LineUpdate) (shopify.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[cartID]
	if !ok {
		return shopify.Cart{}, apperr.NotFound("cart")
	}
	for _, u := range lines {
		for i := range c.Lines {
			if c.Lines[i].ID == u.ID {
				c.TotalQuantity += u.Quantity - c.Lines[i].Quantity
				c.Lines[i].Quantity = u.Quantity
			}
		}
	}
	f.carts[cartID] = c
	return c, nil
}

func (f *fakeShop) RemoveCartLines(_ context.Context, cartID string, lineIDs []string) (shopify.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[cartID]
	if !ok {
		return shopify.Cart{}, apperr.NotFound("cart")
	}
	drop := make(map[string]bool)
	for _, id := range lineIDs {
		drop[id] = true
	}
	kept := c.Lines[:0]
	c.TotalQuantity = 0
	for _, l := range c.Lines {
		if !drop[l.ID] {
			kept = append(kept, l)
			c.TotalQuantity += l.Quantity
		}
	}
	c.Lines = kept
	f.carts[cartID] = c
	return c, nil
}

func addLines(c shopify.Cart, lines []shopify.LineInput) shopify.Cart {
	for _, l := range lines {
		c.Lines = append(c.Lines, shopify.CartLine{ID: fmt.Sprintf("%s/line/%d", c.ID, len(c.Lines)+1), MerchandiseID: l.MerchandiseID, Quantity: l.Quantity})
		c.TotalQuantity += l.Quantity
	}
	return c
}

func (f *fakeShop) CreateCustomer(_ context.Context, in shopify.CustomerInput) (string, error) {
	if in.Email == "taken@pawket.example" {
		return "", apperr.Conflict("an account with this email already exists")
	}
	return "gid://shopify/Customer/2", nil
}

func (f *fakeShop) CreateAccessToken(_ context.Context, email, password string) (shopify.AccessToken, error) {
	if password != "correct-horse" {
		return shopify.AccessToken{}, apperr.Unauthorized("invalid email or password")
	}
	return shopify.AccessToken{Token: "tok-" + email, ExpiresAt: time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)}, nil
}

func (f *fakeShop) DeleteAccessToken(_ context.Context, token string) error {
	f.mu.Lock()
	f.revoked = append(f.revoked, token)
	f.mu.Unlock()
	return nil
}

func (f *fakeShop) Customer(_ context.Context, token string) (shopify.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.revoked {
		if r == token {
			return shopify.Customer{}, apperr.Unauthorized("session expired")
		}
	}
	if token == "" || token[:4] != "tok-" {
		return shopify.Customer{}, apperr.Unauthorized("session expired")
	}
	return shopify.Customer{ID: "gid://shopify/Customer/1", Email: token[4:]}, nil
}

func (f *fakeShop) RecoverCustomer(_ context.Context, email string) error {
	if email == "nobody@pawket.example" {
		return apperr.Invalid("Could not find customer")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	shop    *fakeShop
	events  *events.Recorder
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Config{
		ServiceName:     "storefront-service",
		CatalogCacheTTL: time.Minute,
		CatalogPoolSize: 250,
		AuthRateLimit:   3,
		CookieSecure:    true,
	}
	shop := newFakeShop()
	rec := &events.Recorder{}
	svc := newService(cfg, shop, session.NewResolver(shop, cache.NewMemory(), nil), cache.NewMemory(), rec, logger.Nop(), nil)
	return &harness{shop: shop, events: rec, handler: svc.routes()}
}

func (h *harness) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func handles(t *testing.T, body map[string]any) []string {
	t.Helper()
	items, ok := body["items"].([]any)
	require.True(t, ok, "items missing: %v", body)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.(map[string]any)["handle"].(string))
	}
	return out
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "memory", body["mode"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListProductsFiltersSortsAndPages(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/products?sort=price-asc&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []string{"rope-tug", "feather-wand"}, handles(t, body))
	assert.Equal(t, "2", body["next_cursor"])
	assert.EqualValues(t, 4, body["total"])
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, "pawket.storefront.products.listed", body["event_topic"])

	rec = h.do(t, http.MethodGet, "/v1/products?sort=price-asc&limit=2&cursor=2", nil)
	body = decode(t, rec)
	assert.Equal(t, []string{"salmon-bites", "orthopedic-bed"}, handles(t, body))
	assert.Nil(t, body["next_cursor"])
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, 1, h.shop.searchCalls)

	rec = h.do(t, http.MethodGet, "/v1/products?category=toys&in_stock=true&max_price=7", nil)
	assert.Equal(t, []string{"rope-tug"}, handles(t, decode(t, rec)))

	rec = h.do(t, http.MethodGet, "/v1/products?species=kitty", nil)
	assert.Equal(t, []string{"feather-wand", "rope-tug"}, handles(t, decode(t, rec)))
}

func TestListProductsQueryDefaultsToRelevance(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/products?q=dog+bed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := handles(t, decode(t, rec))
	require.NotEmpty(t, got)
	assert.Equal(t, "orthopedic-bed", got[0])
	assert.NotContains(t, got, "feather-wand")
}

func TestListProductsRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/products?min_price=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["code"])

	rec = h.do(t, http.MethodGet, "/v1/products?cursor=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductAndCollections(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/products/feather-wand", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Feather Wand", decode(t, rec)["item"].(map[string]any)["title"])

	rec = h.do(t, http.MethodGet, "/v1/products/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/collections", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 1)

	rec = h.do(t, http.MethodGet, "/v1/collections/toys/products?sort=title-asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []string{"feather-wand", "rope-tug"}, handles(t, body))
	assert.Equal(t, "Toys", body["collection"].(map[string]any)["title"])

	rec = h.do(t, http.MethodGet, "/v1/collections/nope/products", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartFlow(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/cart", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	line := map[string]any{"merchandise_id": "gid://shopify/ProductVariant/9", "quantity": 2}
	rec = h.do(t, http.MethodPost, "/v1/cart/lines", map[string]any{"lines": []any{line}})
	require.Equal(t, http.StatusCreated, rec.Code)
	cartCookie := cookieNamed(rec, session.CartCookie)
	require.NotNil(t, cartCookie)
	assert.True(t, cartCookie.HttpOnly)
	assert.True(t, cartCookie.Secure)

	rec = h.do(t, http.MethodPost, "/v1/cart/lines", map[string]any{"lines": []any{line}}, cartCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	item := decode(t, rec)["item"].(map[string]any)
	assert.EqualValues(t, 4, item["total_quantity"])
	assert.Contains(t, h.events.Topics(), "pawket.storefront.cart.lines.added")

	rec = h.do(t, http.MethodPost, "/v1/cart/lines", map[string]any{"lines": []any{map[string]any{"merchandise_id": "x", "quantity": 100}}}, cartCookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	lineID := cartCookie.Value + "/line/1"
	rec = h.do(t, http.MethodPatch, "/v1/cart/lines", map[string]any{"lines": []any{map[string]any{"id": lineID, "quantity": 0}}}, cartCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["item"].(map[string]any)["total_quantity"])

	rec = h.do(t, http.MethodDelete, "/v1/cart/lines", map[string]any{"line_ids": []string{cartCookie.Value + "/line/2"}}, cartCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["item"].(map[string]any)["lines"], 1)

	rec = h.do(t, http.MethodDelete, "/v1/cart/lines", map[string]any{"line_ids": []string{" "}}, cartCookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/cart", nil, cartCookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCartExpiredCookieIsCleared(t *testing.T) {
	h := newHarness(t)
	stale := &http.Cookie{Name: session.CartCookie, Value: "gid://shopify/Cart/gone"}

	rec := h.do(t, http.MethodGet, "/v1/cart", nil, stale)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	cleared := cookieNamed(rec, session.CartCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	rec = h.do(t, http.MethodPatch, "/v1/cart/lines", map[string]any{"lines": []any{map[string]any{"id": "l", "quantity": 1}}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	line := map[string]any{"merchandise_id": "gid://shopify/ProductVariant/9", "quantity": 1}
	rec = h.do(t, http.MethodPost, "/v1/cart/lines", map[string]any{"lines": []any{line}}, stale)
	assert.Equal(t, http.StatusCreated, rec.Code, "an expired cart is replaced")
}

func TestCartLineMutationsClearExpiredCookie(t *testing.T) {
	h := newHarness(t)
	stale := &http.Cookie{Name: session.CartCookie, Value: "gid://shopify/Cart/gone"}

	rec := h.do(t, http.MethodPatch, "/v1/cart/lines", map[string]any{"lines": []any{map[string]any{"id": "l", "quantity": 1}}}, stale)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	cleared := cookieNamed(rec, session.CartCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	rec = h.do(t, http.MethodDelete, "/v1/cart/lines", map[string]any{"line_ids": []string{"l"}}, stale)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	cleared = cookieNamed(rec, session.CartCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestCartCreateAttachesBuyer(t *testing.T) {
	h := newHarness(t)
	cust := &http.Cookie{Name: session.CustomerCookie, Value: "tok-ada@pawket.example"}
	rec := h.do(t, http.MethodPost, "/v1/cart", map[string]any{"lines": []any{}}, cust)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["item"].(map[string]any)["id"].(string)
	assert.Equal(t, "tok-ada@pawket.example", h.shop.buyerTokens[id])
}

func TestLoginMeLogout(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/auth/login", map[string]string{"email": " Ada@Pawket.example ", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	ck := cookieNamed(rec, session.CustomerCookie)
	require.NotNil(t, ck)
	assert.Equal(t, "tok-ada@pawket.example", ck.Value)
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.False(t, ck.Expires.IsZero())
	_, hasToken := decode(t, rec)["token"]
	assert.False(t, hasToken)

	rec = h.do(t, http.MethodGet, "/v1/auth/me", nil, ck)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@pawket.example", decode(t, rec)["item"].(map[string]any)["email"])

	rec = h.do(t, http.MethodPost, "/v1/auth/logout", nil, ck)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, cookieNamed(rec, session.CustomerCookie).MaxAge)
	assert.Equal(t, []string{"tok-ada@pawket.example"}, h.shop.revoked)

	rec = h.do(t, http.MethodGet, "/v1/auth/me", nil, ck)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "logout evicts the cached session")
}

func TestLoginRejections(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/v1/auth/login", map[string]string{"email": "ada@pawket.example", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, cookieNamed(rec, session.CustomerCookie))

	rec = h.do(t, http.MethodPost, "/v1/auth/login", map[string]string{"email": "not-an-email", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/auth/login", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty request body", decode(t, rec)["error"])
}

func TestAuthRateLimit(t *testing.T) {
	h := newHarness(t)
	body := map[string]string{"email": "ada@pawket.example", "password": "nope"}
	for i := 0; i < 3; i++ {
		rec := h.do(t, http.MethodPost, "/v1/auth/login", body)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := h.do(t, http.MethodPost, "/v1/auth/login", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decode(t, rec)["code"])

	rec = h.do(t, http.MethodGet, "/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "me is not rate limited")
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/auth/register", map[string]any{"email": "new@pawket.example", "password": "correct-horse", "first_name": "Nova"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotNil(t, cookieNamed(rec, session.CustomerCookie))
	assert.Contains(t, h.events.Topics(), "pawket.storefront.customer.registered")

	rec = h.do(t, http.MethodPost, "/v1/auth/register", map[string]any{"email": "taken@pawket.example", "password": "correct-horse"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/auth/register", map[string]any{"email": "short@pawket.example", "password": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password must be at least 5 characters", decode(t, rec)["error"])

	for _, email := range []string{"Nova <nova@pawket.example>", "nova@", "nova pawket@example.com"} {
		rec = h.do(t, http.MethodPost, "/v1/auth/register", map[string]any{"email": email, "password": "correct-horse"})
		assert.Equal(t, http.StatusBadRequest, rec.Code, email)
		assert.Equal(t, "email must be a valid email address", decode(t, rec)["error"], email)
	}
}

func TestRecoverNeverEnumerates(t *testing.T) {
	h := newHarness(t)
	for _, email := range []string{"ada@pawket.example", "nobody@pawket.example"} {
		rec := h.do(t, http.MethodPost, "/v1/auth/recover", map[string]string{"email": email})
		assert.Equal(t, http.StatusAccepted, rec.Code, email)
	}
}
