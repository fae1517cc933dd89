package main

import (
	"net/http"
	"strings"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/httpx"
	"github.com/00Mars/pet-pawket-sub000/internal/session"
	"github.com/00Mars/pet-pawket-sub000/internal/shopify"
	"github.com/00Mars/pet-pawket-sub000/internal/validator"
)

type registerRequest struct {
	Email            string `json:"email" validate:"required,email"`
	// Shopify rejects customer passwords shorter than five characters.
	Password         string `json:"password" validate:"required,min=5"`
	FirstName        string `json:"first_name" validate:"max=255"`
	LastName         string `json:"last_name" validate:"max=255"`
	AcceptsMarketing bool   `json:"accepts_marketing"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type recoverRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// decodeAuth decodes the body into req, lets normalize tidy it and then
// checks its validate tags.
func decodeAuth[T any](r *http.Request, req *T, normalize func(*T)) error {
	if err := httpx.DecodeJSON(r, req); err != nil {
		return err
	}
	normalize(req)
	return validator.Check(req)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	err := decodeAuth(r, &req, func(req *registerRequest) {
		req.Email = normalizeEmail(req.Email)
		req.FirstName = strings.TrimSpace(req.FirstName)
		req.LastName = strings.TrimSpace(req.LastName)
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	id, err := s.api.CreateCustomer(r.Context(), shopify.CustomerInput{
		Email:            req.Email,
		Password:         req.Password,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		AcceptsMarketing: req.AcceptsMarketing,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s.publish(r.Context(), "pawket.storefront.customer.registered", id, nil)

	cu, tok, err := s.signIn(w, r, req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"item": cu, "expires_at": tok.ExpiresAt, "event_topic": "pawket.storefront.customer.registered"})
}

func (s *service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAuth(r, &req, func(req *loginRequest) { req.Email = normalizeEmail(req.Email) }); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	cu, tok, err := s.signIn(w, r, req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": cu, "expires_at": tok.ExpiresAt, "event_topic": "pawket.storefront.customer.logged_in"})
}

// handleLogout always clears the cookie; revoking the token upstream is
// best effort.
func (s *service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := session.Token(r); token != "" {
		if err := s.api.DeleteAccessToken(r.Context(), token); err != nil {
			s.log.Warn("access token revoke failed", "error", err)
		}
		s.resolver.Evict(r.Context(), token)
	}
	s.cookies.ClearCustomer(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "signed_out", "event_topic": "pawket.storefront.customer.logged_out"})
}

func (s *service) handleMe(w http.ResponseWriter, r *http.Request) {
	token := session.Token(r)
	cu, err := s.resolver.Resolve(r.Context(), token)
	if err != nil {
		if apperr.Is(err, apperr.CodeUnauthorized) && token != "" {
			s.cookies.ClearCustomer(w)
		}
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": cu, "event_topic": "pawket.storefront.customer.read"})
}

// handleRecover answers 202 whether or not the address has an account.
func (s *service) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decodeAuth(r, &req, func(req *recoverRequest) { req.Email = normalizeEmail(req.Email) }); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := s.api.RecoverCustomer(r.Context(), req.Email); err != nil {
		s.log.Info("customer recover not sent", "error", err)
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "event_topic": "pawket.storefront.customer.recover_requested"})
}

// signIn creates an access token, stores it in the customer cookie and
// returns the profile it resolves to.
func (s *service) signIn(w http.ResponseWriter, r *http.Request, email, password string) (shopify.Customer, shopify.AccessToken, error) {
	tok, err := s.api.CreateAccessToken(r.Context(), email, password)
	if err != nil {
		return shopify.Customer{}, shopify.AccessToken{}, err
	}
	s.cookies.SetCustomer(w, tok)
	cu, err := s.resolver.Resolve(r.Context(), tok.Token)
	if err != nil {
		return shopify.Customer{}, shopify.AccessToken{}, err
	}
	s.publish(r.Context(), "pawket.storefront.customer.logged_in", cu.ID, nil)
	return cu, tok, nil
}
