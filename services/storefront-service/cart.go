package main

import (
	"net/http"
	"strings"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/httpx"
	"github.com/00Mars/pet-pawket-sub000/internal/session"
	"github.com/00Mars/pet-pawket-sub000/internal/shopify"
)

const maxLineQuantity = 99

type cartLinesRequest struct {
	Lines []shopify.LineInput `json:"lines"`
}

type updateLinesRequest struct {
	Lines []shopify.LineUpdate `json:"lines"`
}

type removeLinesRequest struct {
	LineIDs []string `json:"line_ids"`
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func validateLineInputs(lines []shopify.LineInput, allowEmpty bool) error {
	if len(lines) == 0 && !allowEmpty {
		return apperr.Invalid("lines are required")
	}
	for i, l := range lines {
		if strings.TrimSpace(l.MerchandiseID) == "" {
			return apperr.Invalid("lines[%d].merchandise_id is required", i)
		}
		if l.Quantity < 1 || l.Quantity > maxLineQuantity {
			return apperr.Invalid("lines[%d].quantity must be between 1 and %d", i, maxLineQuantity)
		}
	}
	return nil
}

func validateLineUpdates(lines []shopify.LineUpdate) error {
	if len(lines) == 0 {
		return apperr.Invalid("lines are required")
	}
	for i, l := range lines {
		if strings.TrimSpace(l.ID) == "" {
			return apperr.Invalid("lines[%d].id is required", i)
		}
		if l.Quantity < 0 || l.Quantity > maxLineQuantity {
			return apperr.Invalid("lines[%d].quantity must be between 0 and %d", i, maxLineQuantity)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *service) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cartID := session.CartID(r)
	if cartID == "" {
		httpx.WriteError(w, r, apperr.NotFound("cart"))
		return
	}
	cart, err := s.api.Cart(r.Context(), cartID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			s.cookies.ClearCart(w)
		}
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": cart, "event_topic": "pawket.storefront.cart.read"})
}

func (s *service) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	var req cartLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := validateLineInputs(req.Lines, true); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	cart, err := s.createCart(w, r, req.Lines)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"item": cart, "event_topic": "pawket.storefront.cart.created"})
}

// handleAddLines adds to the current cart, starting a new one when there is
// no cart cookie or the cart has expired.
func (s *service) handleAddLines(w http.ResponseWriter, r *http.Request) {
	var req cartLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := validateLineInputs(req.Lines, false); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	if cartID := session.CartID(r); cartID != "" {
		cart, err := s.api.AddCartLines(r.Context(), cartID, req.Lines)
		if err == nil {
			s.publish(r.Context(), "pawket.storefront.cart.lines.added", "", map[string]any{"cart_id": cart.ID, "lines": len(req.Lines)})
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": cart, "event_topic": "pawket.storefront.cart.lines.added"})
			return
		}
		if !apperr.Is(err, apperr.CodeNotFound) {
			httpx.WriteError(w, r, err)
			return
		}
	}

	cart, err := s.createCart(w, r, req.Lines)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"item": cart, "event_topic": "pawket.storefront.cart.created"})
}

func (s *service) handleUpdateLines(w http.ResponseWriter, r *http.Request) {
	cartID := session.CartID(r)
	if cartID == "" {
		httpx.WriteError(w, r, apperr.NotFound("cart"))
		return
	}
	var req updateLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := validateLineUpdates(req.Lines); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	cart, err := s.api.UpdateCartLines(r.Context(), cartID, req.Lines)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			s.cookies.ClearCart(w)
		}
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": cart, "event_topic": "pawket.storefront.cart.lines.updated"})
}

func (s *service) handleRemoveLines(w http.ResponseWriter, r *http.Request) {
	cartID := session.CartID(r)
	if cartID == "" {
		httpx.WriteError(w, r, apperr.NotFound("cart"))
		return
	}
	var req removeLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	ids := make([]string, 0, len(req.LineIDs))
	for _, id := range req.LineIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		httpx.WriteError(w, r, apperr.Invalid("line_ids are required"))
		return
	}
	cart, err := s.api.RemoveCartLines(r.Context(), cartID, ids)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			s.cookies.ClearCart(w)
		}
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": cart, "event_topic": "pawket.storefront.cart.lines.removed"})
}

// createCart ties the cart to the signed-in customer, if any, and stores its
// id in the cart cookie.
func (s *service) createCart(w http.ResponseWriter, r *http.Request, lines []shopify.LineInput) (shopify.Cart, error) {
	cart, err := s.api.CreateCart(r.Context(), lines, session.Token(r))
	if err != nil {
		return shopify.Cart{}, err
	}
	s.cookies.SetCart(w, cart.ID)
	s.publish(r.Context(), "pawket.storefront.cart.created", "", map[string]any{"cart_id": cart.ID})
	return cart, nil
}
