package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/cache"
	"github.com/00Mars/pet-pawket-sub000/internal/shopify"
)

type fakeSource struct {
	calls atomic.Int32
}

func (f *fakeSource) Customer(_ context.Context, token string) (shopify.Customer, error) {
	f.calls.Add(1)
	if token != "good" {
		return shopify.Customer{}, apperr.Unauthorized("session expired")
	}
	return shopify.Customer{ID: "gid://shopify/Customer/1", Email: "ada@pawket.example"}, nil
}

func TestTokenSources(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, Token(r))

	r.Header.Set("Authorization", "Bearer  abc ")
	assert.Equal(t, "abc", Token(r))

	r.AddCookie(&http.Cookie{Name: CustomerCookie, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", Token(r), "cookie wins over header")

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("Authorization", "Basic Zm9v")
	assert.Empty(t, Token(r2))
}

func TestCookies(t *testing.T) {
	c := Cookies{Secure: true, Domain: "pawket.example"}
	expires := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	rec := httptest.NewRecorder()
	c.SetCustomer(rec, shopify.AccessToken{Token: "tok", ExpiresAt: expires})
	c.SetCart(rec, "gid://shopify/Cart/1")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)

	cust := cookies[0]
	assert.Equal(t, CustomerCookie, cust.Name)
	assert.Equal(t, "tok", cust.Value)
	assert.True(t, cust.HttpOnly)
	assert.True(t, cust.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cust.SameSite)
	assert.Equal(t, "pawket.example", cust.Domain)
	assert.True(t, cust.Expires.Equal(expires))
	assert.Equal(t, CartCookie, cookies[1].Name)

	rec = httptest.NewRecorder()
	c.ClearCustomer(rec)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)
	assert.Empty(t, cleared[0].Value)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CartCookie, Value: "cart-1"})
	assert.Equal(t, "cart-1", CartID(req))
}

func TestResolverCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	src := &fakeSource{}
	res := NewResolver(src, cache.NewRedis(rdb, "pawket"), nil)
	ctx := context.Background()

	cu, err := res.Resolve(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/Customer/1", cu.ID)

	_, err = res.Resolve(ctx, "good")
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load())

	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "good", "raw tokens are not stored")
	}

	res.Evict(ctx, "good")
	_, err = res.Resolve(ctx, "good")
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())

	_, err = res.Resolve(ctx, "")
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}

func TestEvictionIsSharedAcrossServices(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	url := "redis://" + mr.Addr() + "/0"

	src := &fakeSource{}
	storefront := NewResolver(src, OpenCache(ctx, url, nil), nil)
	account := NewResolver(src, OpenCache(ctx, url, nil), nil)

	_, err := storefront.Resolve(ctx, "good")
	require.NoError(t, err)
	_, err = account.Resolve(ctx, "good")
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load(), "second service reads the shared entry")

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], CacheNamespace+":session|"))

	storefront.Evict(ctx, "good")
	assert.Empty(t, mr.Keys())
	_, err = account.Resolve(ctx, "good")
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load(), "logout in one service is seen by the other")
}

func TestResolverDoesNotCacheFailures(t *testing.T) {
	src := &fakeSource{}
	res := NewResolver(src, nil, nil)
	for i := 0; i < 2; i++ {
		_, err := res.Resolve(context.Background(), "bad")
		assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
	}
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestMiddleware(t *testing.T) {
	res := NewResolver(&fakeSource{}, cache.NewMemory(), nil)
	h := Middleware(res, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cu, ok := CustomerFrom(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(cu.ID + "|" + TokenFrom(r.Context())))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pets", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	req := httptest.NewRequest(http.MethodGet, "/v1/pets", nil)
	req.AddCookie(&http.Cookie{Name: CustomerCookie, Value: "bad"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/pets", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasSuffix(rec.Body.String(), "|good"))
}

func TestCustomerFromEmptyContext(t *testing.T) {
	_, ok := CustomerFrom(context.Background())
	assert.False(t, ok)
	assert.Empty(t, TokenFrom(context.Background()))
}
