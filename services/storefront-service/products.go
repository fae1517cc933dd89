package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/00Mars/pet-pawket-sub000/internal/cache"
	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
	"github.com/00Mars/pet-pawket-sub000/internal/httpx"
	"github.com/00Mars/pet-pawket-sub000/internal/shopify"
)

type productListResponse struct {
	Items      []catalog.Product   `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
	Total      int                 `json:"total"`
	Cached     bool                `json:"cached"`
	Collection *shopify.Collection `json:"collection,omitempty"`
	EventTopic string              `json:"event_topic"`
}

type collectionPool struct {
	Collection shopify.Collection `json:"collection"`
	Products   []catalog.Product  `json:"products"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *service) handleListProducts(w http.ResponseWriter, r *http.Request) {
	f, limit, cursor, err := parseFilter(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	pool, cached, err := s.catalogPool(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	resp, err := pageOf(pool, f, cursor, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	resp.Cached = cached
	resp.EventTopic = "pawket.storefront.products.listed"
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *service) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	handle := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "handle")))
	p, err := s.api.ProductByHandle(r.Context(), handle)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": p, "event_topic": "pawket.storefront.product.read"})
}

func (s *service) handleListCollections(w http.ResponseWriter, r *http.Request) {
	items, cached, err := cache.GetOrSet(r.Context(), s.cache, cache.Key("collections"), s.catalogTTL,
		func(ctx context.Context) ([]shopify.Collection, error) {
			return s.api.Collections(ctx, 50)
		})
	s.metrics.CacheLookup("collections", cached)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "cached": cached, "event_topic": "pawket.storefront.collections.listed"})
}

func (s *service) handleCollectionProducts(w http.ResponseWriter, r *http.Request) {
	f, limit, cursor, err := parseFilter(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	handle := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "handle")))
	pool, cached, err := cache.GetOrSet(r.Context(), s.cache, cache.Key("catalog", "collection", handle), s.catalogTTL,
		func(ctx context.Context) (collectionPool, error) {
			coll, products, err := s.api.CollectionProducts(ctx, handle, s.poolSize)
			return collectionPool{Collection: coll, Products: products}, err
		})
	s.metrics.CacheLookup("catalog", cached)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	resp, err := pageOf(pool.Products, f, cursor, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	resp.Cached = cached
	resp.Collection = &pool.Collection
	resp.EventTopic = "pawket.storefront.collection.products.listed"
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Pool / filters
// ---------------------------------------------------------------------------

// catalogPool is the whole shop, up to poolSize products, in featured order.
func (s *service) catalogPool(ctx context.Context) ([]catalog.Product, bool, error) {
	pool, cached, err := cache.GetOrSet(ctx, s.cache, cache.Key("catalog", "all"), s.catalogTTL,
		func(ctx context.Context) ([]catalog.Product, error) {
			return s.api.SearchProducts(ctx, "", s.poolSize)
		})
	s.metrics.CacheLookup("catalog", cached)
	return pool, cached, err
}

func parseFilter(r *http.Request) (catalog.Filter, int, string, error) {
	q := r.URL.Query()
	minPrice, err := httpx.FloatParam(r, "min_price")
	if err != nil {
		return catalog.Filter{}, 0, "", err
	}
	maxPrice, err := httpx.FloatParam(r, "max_price")
	if err != nil {
		return catalog.Filter{}, 0, "", err
	}
	if minPrice > 0 && maxPrice > 0 && minPrice > maxPrice {
		minPrice, maxPrice = maxPrice, minPrice
	}
	f := catalog.Filter{
		Query:       strings.TrimSpace(q.Get("q")),
		Category:    strings.TrimSpace(q.Get("category")),
		Species:     catalog.NormalizeSpecies(q.Get("species")),
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,
		InStockOnly: httpx.BoolParam(r, "in_stock"),
		Sort:        strings.TrimSpace(q.Get("sort")),
	}
	if f.Sort == "" && f.Query != "" {
		f.Sort = catalog.SortRelevance
	}
	limit := httpx.IntParam(r, "limit", 24, 1, 100)
	return f, limit, strings.TrimSpace(q.Get("cursor")), nil
}

func pageOf(pool []catalog.Product, f catalog.Filter, cursor string, limit int) (productListResponse, error) {
	matched := catalog.Apply(pool, f)
	items, next, err := catalog.Page(matched, cursor, limit)
	if err != nil {
		return productListResponse{}, err
	}
	return productListResponse{Items: items, NextCursor: next, Total: len(matched)}, nil
}
