package main

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/00Mars/pet-pawket-sub000/internal/cache"
	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
	"github.com/00Mars/pet-pawket-sub000/internal/httpx"
	"github.com/00Mars/pet-pawket-sub000/internal/recommend"
)

const (
	defaultRecommendLimit = 12
	maxRecommendLimit     = 50
)

// speciesQueries are Storefront search queries for species-specific goods.
var speciesQueries = map[string]string{
	"dog":          "tag:dog OR tag:dogs OR tag:puppy OR product_type:dog",
	"cat":          "tag:cat OR tag:cats OR tag:kitten OR product_type:cat",
	"bird":         "tag:bird OR tag:birds OR tag:parrot",
	"fish":         "tag:fish OR tag:aquarium",
	"reptile":      "tag:reptile OR tag:reptiles OR tag:terrarium",
	"small_animal": "tag:hamster OR tag:rabbit OR tag:guinea-pig OR tag:small-animal",
}

func (s *service) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.ownedPet(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	q := r.URL.Query()
	limit := httpx.IntParam(r, "limit", defaultRecommendLimit, 1, maxRecommendLimit)
	page := httpx.IntParam(r, "page", 1, 1, 1_000_000)
	rotate := httpx.BoolParam(r, "rotate")
	seed := strings.TrimSpace(q.Get("seed"))
	if seed == "" {
		seed = p.ID
	}

	disliked, err := s.handleSet(ctx, dislikes, p.CustomerID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	for _, raw := range q["dislike"] {
		for _, h := range strings.Split(raw, ",") {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				disliked[h] = true
			}
		}
	}

	pool, err := s.candidates(ctx, p.Species)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	profile := recommend.BuildProfile(p.traits(), s.now())
	ranked := recommend.Rerank(pool, profile, recommend.Options{Dislikes: disliked, Seed: seed})
	items, pageCount := recommend.Window(ranked, seed, page-1, limit, rotate)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"page":        page,
		"page_count":  pageCount,
		"seed":        seed,
		"event_topic": "pawket.account.recommendations.generated",
	})
}

// candidates returns the recommendation pool for a species: species-specific
// products first, then the general catalog, deduplicated by handle.
func (s *service) candidates(ctx context.Context, species string) ([]catalog.Product, error) {
	pool, _, err := cache.GetOrSet(ctx, s.cache, cache.Key("candidates", species), s.catalogTTL, func(ctx context.Context) ([]catalog.Product, error) {
		var specific, general []catalog.Product
		g, gctx := errgroup.WithContext(ctx)
		if query, ok := speciesQueries[species]; ok {
			g.Go(func() error {
				var err error
				specific, err = s.products.SearchProducts(gctx, query, s.poolSize)
				return err
			})
		}
		g.Go(func() error {
			var err error
			general, err = s.products.SearchProducts(gctx, "", s.poolSize)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return mergeByHandle(specific, general), nil
	})
	return pool, err
}

func mergeByHandle(lists ...[]catalog.Product) []catalog.Product {
	seen := make(map[string]bool)
	out := make([]catalog.Product, 0)
	for _, list := range lists {
		for _, p := range list {
			if p.Handle == "" || seen[p.Handle] {
				continue
			}
			seen[p.Handle] = true
			out = append(out, p)
		}
	}
	return out
}
