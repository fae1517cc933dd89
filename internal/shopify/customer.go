package shopify

import (
	"context"
	"strings"
	"time"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
)

// UserError is a Storefront userErrors / customerUserErrors entry.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

// UserErrors is the list a mutation returns alongside its payload.
type UserErrors []UserError

func (e UserErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ue := range e {
		msgs = append(msgs, ue.Message)
	}
	return strings.Join(msgs, "; ")
}

// Err returns a VALIDATION_ERROR carrying the first message, or nil.
func (e UserErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return apperr.Wrap(e, apperr.CodeValidation, e[0].Message)
}

func (e UserErrors) hasCode(code string) bool {
	for _, ue := range e {
		if ue.Code == code {
			return true
		}
	}
	return false
}

// Customer is the signed-in shopper's profile.
type Customer struct {
	ID               string    `json:"id"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone,omitempty"`
	AcceptsMarketing bool      `json:"accepts_marketing"`
	CreatedAt        time.Time `json:"created_at"`
}

// AccessToken is a customer session credential.
type AccessToken struct {
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CustomerInput registers a new customer.
type CustomerInput struct {
	Email            string
	Password         string
	FirstName        string
	LastName         string
	AcceptsMarketing bool
}

// CreateCustomer registers a customer and returns its id.
func (c *Client) CreateCustomer(ctx context.Context, in CustomerInput) (string, error) {
	input := map[string]any{
		"email":            in.Email,
		"password":         in.Password,
		"acceptsMarketing": in.AcceptsMarketing,
	}
	if in.FirstName != "" {
		input["firstName"] = in.FirstName
	}
	if in.LastName != "" {
		input["lastName"] = in.LastName
	}
	var data struct {
		CustomerCreate struct {
			Customer *struct {
				ID string `json:"id"`
			} `json:"customer"`
			CustomerUserErrors UserErrors `json:"customerUserErrors"`
		} `json:"customerCreate"`
	}
	if err := c.Do(ctx, "customerCreate", customerCreateMutation, map[string]any{"input": input}, &data); err != nil {
		return "", err
	}
	payload := data.CustomerCreate
	if payload.CustomerUserErrors.hasCode("TAKEN") {
		return "", apperr.Wrap(payload.CustomerUserErrors, apperr.CodeConflict, "an account with this email already exists")
	}
	if err := payload.CustomerUserErrors.Err(); err != nil {
		return "", err
	}
	if payload.Customer == nil {
		return "", apperr.Upstream(nil, "customer was not created")
	}
	return payload.Customer.ID, nil
}

// CreateAccessToken signs a customer in. Bad credentials are UNAUTHORIZED.
func (c *Client) CreateAccessToken(ctx context.Context, email, password string) (AccessToken, error) {
	var data struct {
		Payload struct {
			CustomerAccessToken *struct {
				AccessToken string `json:"accessToken"`
				ExpiresAt   string `json:"expiresAt"`
			} `json:"customerAccessToken"`
			CustomerUserErrors UserErrors `json:"customerUserErrors"`
		} `json:"customerAccessTokenCreate"`
	}
	vars := map[string]any{"input": map[string]any{"email": email, "password": password}}
	if err := c.Do(ctx, "customerAccessTokenCreate", customerAccessTokenCreateMutation, vars, &data); err != nil {
		return AccessToken{}, err
	}
	p := data.Payload
	if p.CustomerUserErrors.hasCode("UNIDENTIFIED_CUSTOMER") || (len(p.CustomerUserErrors) == 0 && p.CustomerAccessToken == nil) {
		return AccessToken{}, apperr.Unauthorized("invalid email or password")
	}
	if err := p.CustomerUserErrors.Err(); err != nil {
		return AccessToken{}, err
	}
	tok := AccessToken{Token: p.CustomerAccessToken.AccessToken}
	if t, err := time.Parse(time.RFC3339, p.CustomerAccessToken.ExpiresAt); err == nil {
		tok.ExpiresAt = t.UTC()
	}
	return tok, nil
}

// DeleteAccessToken revokes a customer token.
func (c *Client) DeleteAccessToken(ctx context.Context, token string) error {
	var data struct {
		Payload struct {
			UserErrors UserErrors `json:"userErrors"`
		} `json:"customerAccessTokenDelete"`
	}
	if err := c.Do(ctx, "customerAccessTokenDelete", customerAccessTokenDeleteMutation, map[string]any{"token": token}, &data); err != nil {
		return err
	}
	return data.Payload.UserErrors.Err()
}

// Customer resolves a token to its customer. Invalid or expired tokens are
// UNAUTHORIZED.
func (c *Client) Customer(ctx context.Context, token string) (Customer, error) {
	var data struct {
		Customer *struct {
			ID               string `json:"id"`
			FirstName        string `json:"firstName"`
			LastName         string `json:"lastName"`
			Email            string `json:"email"`
			Phone            string `json:"phone"`
			AcceptsMarketing bool   `json:"acceptsMarketing"`
			CreatedAt        string `json:"createdAt"`
		} `json:"customer"`
	}
	if err := c.Do(ctx, "customer", customerQuery, map[string]any{"token": token}, &data); err != nil {
		return Customer{}, err
	}
	if data.Customer == nil || data.Customer.ID == "" {
		return Customer{}, apperr.Unauthorized("session expired")
	}
	cu := Customer{
		ID:               data.Customer.ID,
		FirstName:        data.Customer.FirstName,
		LastName:         data.Customer.LastName,
		Email:            data.Customer.Email,
		Phone:            data.Customer.Phone,
		AcceptsMarketing: data.Customer.AcceptsMarketing,
	}
	if t, err := time.Parse(time.RFC3339, data.Customer.CreatedAt); err == nil {
		cu.CreatedAt = t.UTC()
	}
	return cu, nil
}

// RecoverCustomer sends a password reset email.
func (c *Client) RecoverCustomer(ctx context.Context, email string) error {
	var data struct {
		Payload struct {
			CustomerUserErrors UserErrors `json:"customerUserErrors"`
		} `json:"customerRecover"`
	}
	if err := c.Do(ctx, "customerRecover", customerRecoverMutation, map[string]any{"email": email}, &data); err != nil {
		return err
	}
	return data.Payload.CustomerUserErrors.Err()
}
