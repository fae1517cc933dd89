package apperr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	inner := errors.New("connection refused")
	err := Wrap(inner, CodeUpstream, "shopify unavailable")

	assert.Contains(t, err.Error(), CodeUpstream)
	assert.Contains(t, err.Error(), "shopify unavailable")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Same(t, inner, err.Unwrap())
	assert.Equal(t, "NOT_FOUND: pet not found", NotFound("pet").Error())
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{Invalid("name is required"), http.StatusBadRequest},
		{BadRequest("bad cursor"), http.StatusBadRequest},
		{Unauthorized(""), http.StatusUnauthorized},
		{NotFound("pet"), http.StatusNotFound},
		{Conflict("limit reached"), http.StatusConflict},
		{Upstream(errors.New("x"), "shopify"), http.StatusBadGateway},
		{Internal(errors.New("x")), http.StatusInternalServerError},
		{New(CodeRateLimited, "slow down"), http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Status)
		})
	}
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	nf := From(fmt.Errorf("get pet: %w", sql.ErrNoRows))
	assert.Equal(t, CodeNotFound, nf.Code)
	assert.Equal(t, http.StatusNotFound, nf.Status)

	to := From(context.DeadlineExceeded)
	assert.Equal(t, CodeTimeout, to.Code)

	orig := Conflict("dup")
	wrapped := fmt.Errorf("create: %w", orig)
	require.Same(t, orig, From(wrapped))

	assert.Equal(t, CodeInternal, From(errors.New("boom")).Code)
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("ctx: %w", NotFound("address"))
	assert.True(t, Is(err, CodeNotFound))
	assert.False(t, Is(err, CodeConflict))
	assert.False(t, Is(errors.New("plain"), CodeNotFound))
}
