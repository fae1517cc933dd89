// Package httpx carries the JSON helpers and middleware both services mount.
package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
)

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apperr.BadRequest("unreadable request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return apperr.BadRequest("empty request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.BadRequest("invalid JSON payload")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the shape of every non-2xx JSON response.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError maps err through apperr.From and writes it. Internal details of
// 5xx errors are not exposed.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	body := ErrorBody{Error: ae.Message, Code: ae.Code}
	if r != nil {
		body.RequestID = requestID(r)
	}
	WriteJSON(w, ae.Status, body)
}

// ---------------------------------------------------------------------------
// Query parameters
// ---------------------------------------------------------------------------

func IntParam(r *http.Request, key string, def, min, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// FloatParam returns 0 for missing values and an error for malformed ones.
func FloatParam(r *http.Request, key string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0, apperr.Invalid("%s must be a non-negative number", key)
	}
	return f, nil
}

func BoolParam(r *http.Request, key string) bool {
	raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get(key)))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

func WithServerDefaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// NewServer applies the timeouts every service listens with.
func NewServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
