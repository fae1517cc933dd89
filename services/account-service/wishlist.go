package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
	"github.com/00Mars/pet-pawket-sub000/internal/db"
	"github.com/00Mars/pet-pawket-sub000/internal/httpx"
)

// handleItem is a saved product handle in a wishlist or dislike list.
type handleItem struct {
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}

// handleList describes one per-customer set of product handles.
type handleList struct {
	name  string
	table string
	max   func(*service) int
}

var (
	wishlist = handleList{name: "wishlist", table: "wishlist_items", max: func(s *service) int { return s.maxWishlist }}
	dislikes = handleList{name: "dislikes", table: "product_dislikes", max: func(*service) int { return maxDislikes }}
)

const (
	maxDislikes     = 500
	maxHandleLen    = 255
	hydrateParallel = 8
)

var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

func normalizeHandle(raw string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	if h == "" {
		return "", apperr.Invalid("handle is required")
	}
	if len(h) > maxHandleLen || !handlePattern.MatchString(h) {
		return "", apperr.Invalid("handle must be a product handle of lowercase letters, digits and hyphens")
	}
	return h, nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *service) handleListHandles(list handleList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, cached, err := s.listHandles(r.Context(), list, customerID(r))
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "cached": cached, "event_topic": "pawket.account." + list.name + ".listed"})
	}
}

func (s *service) handleAddHandle(list handleList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Handle string `json:"handle"`
		}
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		handle, err := normalizeHandle(req.Handle)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		customer := customerID(r)
		item, created, err := s.addHandle(r.Context(), list, customer, handle)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		topic := "pawket.account." + list.name + ".added"
		code := http.StatusOK
		if created {
			code = http.StatusCreated
			s.publish(r.Context(), topic, customer, map[string]string{"handle": handle})
		}
		httpx.WriteJSON(w, code, map[string]any{"item": item, "created": created, "event_topic": topic})
	}
}

func (s *service) handleRemoveHandle(list handleList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle, err := normalizeHandle(urlID(r, "handle"))
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		customer := customerID(r)
		if err := s.removeHandle(r.Context(), list, customer, handle); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		topic := "pawket.account." + list.name + ".removed"
		s.publish(r.Context(), topic, customer, map[string]string{"handle": handle})
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"handle": handle, "event_topic": topic})
	}
}

// handleWishlistProducts resolves saved handles to live products. Products
// the shop no longer carries are reported in "missing".
func (s *service) handleWishlistProducts(w http.ResponseWriter, r *http.Request) {
	items, _, err := s.listHandles(r.Context(), wishlist, customerID(r))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	products, missing, err := s.hydrate(r.Context(), items)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": products, "missing": missing, "event_topic": "pawket.account.wishlist.hydrated"})
}

func (s *service) hydrate(ctx context.Context, items []handleItem) ([]catalog.Product, []string, error) {
	found := make([]*catalog.Product, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateParallel)
	for i, it := range items {
		g.Go(func() error {
			p, err := s.products.ProductByHandle(gctx, it.Handle)
			if apperr.Is(err, apperr.CodeNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	products := make([]catalog.Product, 0, len(items))
	missing := []string{}
	for i, p := range found {
		if p == nil {
			missing = append(missing, items[i].Handle)
			continue
		}
		products = append(products, *p)
	}
	return products, missing, nil
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

func (s *service) listHandles(ctx context.Context, list handleList, customer string) ([]handleItem, bool, error) {
	key := listCacheKey(customer, list.name, "all")
	var cached []handleItem
	if s.cachedList(ctx, key, &cached) {
		return cached, true, nil
	}

	items := []handleItem{}
	if s.db == nil {
		s.memMu.RLock()
		for _, it := range s.mem.handles[list.name][customer] {
			items = append(items, it)
		}
		s.memMu.RUnlock()
		sort.Slice(items, func(i, j int) bool {
			if items[i].CreatedAt.Equal(items[j].CreatedAt) {
				return items[i].Handle < items[j].Handle
			}
			return items[i].CreatedAt.After(items[j].CreatedAt)
		})
	} else {
		rows, err := s.db.QueryContext(ctx, `SELECT handle, created_at FROM `+list.table+`
			WHERE customer_id=$1 ORDER BY created_at DESC, handle ASC`, customer)
		if err != nil {
			return nil, false, err
		}
		defer rows.Close()
		for rows.Next() {
			var it handleItem
			if err := rows.Scan(&it.Handle, &it.CreatedAt); err != nil {
				return nil, false, err
			}
			it.CreatedAt = it.CreatedAt.UTC()
			items = append(items, it)
		}
		if err := rows.Err(); err != nil {
			return nil, false, err
		}
	}
	s.storeList(ctx, key, items)
	return items, false, nil
}

// handleSet is the list as a lookup set.
func (s *service) handleSet(ctx context.Context, list handleList, customer string) (map[string]bool, error) {
	items, _, err := s.listHandles(ctx, list, customer)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it.Handle] = true
	}
	return out, nil
}

// addHandle is idempotent: re-adding returns the existing item with
// created=false.
func (s *service) addHandle(ctx context.Context, list handleList, customer, handle string) (handleItem, bool, error) {
	limit := list.max(s)
	item := handleItem{Handle: handle, CreatedAt: s.now()}

	if s.db == nil {
		s.memMu.Lock()
		byCustomer := s.mem.handles[list.name]
		if byCustomer == nil {
			byCustomer = make(map[string]map[string]handleItem)
			s.mem.handles[list.name] = byCustomer
		}
		set := byCustomer[customer]
		if set == nil {
			set = make(map[string]handleItem)
			byCustomer[customer] = set
		}
		if existing, ok := set[handle]; ok {
			s.memMu.Unlock()
			return existing, false, nil
		}
		if limit > 0 && len(set) >= limit {
			s.memMu.Unlock()
			return handleItem{}, false, listFullError(list, limit)
		}
		set[handle] = item
		s.memMu.Unlock()
		s.invalidate(ctx, customer, list.name)
		return item, true, nil
	}

	added := false
	err := db.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := db.LockKey(ctx, tx, list.table+":"+customer); err != nil {
			return err
		}
		var existing handleItem
		err := tx.QueryRowContext(ctx, `SELECT handle, created_at FROM `+list.table+` WHERE customer_id=$1 AND handle=$2`, customer, handle).
			Scan(&existing.Handle, &existing.CreatedAt)
		if err == nil {
			item = handleItem{Handle: existing.Handle, CreatedAt: existing.CreatedAt.UTC()}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if limit > 0 {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+list.table+` WHERE customer_id=$1`, customer).Scan(&count); err != nil {
				return err
			}
			if count >= limit {
				return listFullError(list, limit)
			}
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO `+list.table+` (customer_id, handle, created_at) VALUES ($1,$2,$3)
			ON CONFLICT (customer_id, handle) DO NOTHING`, customer, handle, item.CreatedAt)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		added = affected > 0
		return err
	})
	if err != nil {
		return handleItem{}, false, err
	}
	if added {
		s.invalidate(ctx, customer, list.name)
	}
	return item, added, nil
}

func listFullError(list handleList, limit int) error {
	return apperr.Conflict(fmt.Sprintf("%s is full (%d items)", list.name, limit))
}

// removeHandle is NOT_FOUND when the handle was never saved.
func (s *service) removeHandle(ctx context.Context, list handleList, customer, handle string) error {
	if s.db == nil {
		s.memMu.Lock()
		set := s.mem.handles[list.name][customer]
		if _, ok := set[handle]; !ok {
			s.memMu.Unlock()
			return apperr.NotFound(list.name + " item")
		}
		delete(set, handle)
		s.memMu.Unlock()
		s.invalidate(ctx, customer, list.name)
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+list.table+` WHERE customer_id=$1 AND handle=$2`, customer, handle)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound(list.name + " item")
	}
	s.invalidate(ctx, customer, list.name)
	return nil
}
