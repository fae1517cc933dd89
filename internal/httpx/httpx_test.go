package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/logger"
	"github.com/00Mars/pet-pawket-sub000/internal/metrics"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"name":"Biscuit"}`, ""},
		{"empty", "   ", "empty request body"},
		{"malformed", `{"name":`, "invalid JSON payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var v struct {
				Name string `json:"name"`
			}
			err := DecodeJSON(req, &v)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "Biscuit", v.Name)
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.CodeBadRequest))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), apperr.NotFound("pet"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pet not found", body.Error)
	assert.Equal(t, apperr.CodeNotFound, body.Code)

	rec = httptest.NewRecorder()
	WriteError(rec, nil, errors.New("password=hunter2"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&page=x&min_price=12.5&max_price=-1&in_stock=true", nil)

	assert.Equal(t, 100, IntParam(req, "limit", 24, 1, 100))
	assert.Equal(t, 0, IntParam(req, "page", 0, 0, 50))
	assert.Equal(t, 7, IntParam(req, "missing", 7, 1, 10))

	f, err := FloatParam(req, "min_price")
	require.NoError(t, err)
	assert.Equal(t, 12.5, f)

	_, err = FloatParam(req, "max_price")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	assert.True(t, BoolParam(req, "in_stock"))
	assert.False(t, BoolParam(req, "missing"))
}

func TestRouterMiddlewareStack(t *testing.T) {
	var logs bytes.Buffer
	m := metrics.New("test")
	r := NewRouter(RouterOptions{
		Logger:         logger.NewWithOutput("info", "json", &logs),
		Metrics:        m,
		AllowedOrigins: []string{"https://pawket.example"},
	})
	r.Get("/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/v1/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, logs.String(), `"path":"/v1/ping"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logs.String(), "panic recovered")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/v1/ping"`)
}

func TestCORSPreflight(t *testing.T) {
	r := NewRouter(RouterOptions{AllowedOrigins: []string{"https://pawket.example"}})
	r.Post("/v1/cart", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodOptions, "/v1/cart", nil)
	req.Header.Set("Origin", "https://pawket.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "https://pawket.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
