package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("abc123", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.KeyID != "abc123" || claims.Subject != "abc123" {
		t.Errorf("ValidateToken() claims = %+v, want key abc123", claims)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	valid, _ := GenerateToken("abc123", testSecret, time.Hour)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		KeyID: "abc123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", valid, "other"},
		{"expired", expired, testSecret},
		{"garbage", "not.a.token", testSecret},
		{"empty", "", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken(tt.token, tt.secret); err == nil {
				t.Errorf("ValidateToken() error = nil, want rejection")
			}
		})
	}
}

func TestAPIKeys(t *testing.T) {
	keys := NewAPIKeys([]string{"key-one", "", "key-two"})
	if keys.Len() != 2 {
		t.Errorf("Len() = %d, want 2", keys.Len())
	}

	id, ok := keys.Lookup("key-two")
	if !ok || id != KeyID("key-two") {
		t.Errorf("Lookup(key-two) = %q, %v, want %q, true", id, ok, KeyID("key-two"))
	}
	if _, ok := keys.Lookup("key-three"); ok {
		t.Error("Lookup(key-three) = true, want false")
	}
	if len(KeyID("key-one")) != 16 {
		t.Errorf("KeyID() = %q, want 16 hex chars", KeyID("key-one"))
	}
}

func TestMiddleware(t *testing.T) {
	token, _ := GenerateToken("abc123", testSecret, time.Hour)
	handler := NewMiddleware(testSecret).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || claims.KeyID != "abc123" {
			t.Errorf("ClaimsFromContext() = %+v, %v", claims, ok)
		}
		if got := CallerFromContext(r.Context()); got != "abc123" {
			t.Errorf("CallerFromContext() = %q, want abc123", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"extra field", "Bearer " + token + " x", http.StatusUnauthorized},
	}
	if got := CallerFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Errorf("CallerFromContext() without claims = %q, want empty", got)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
