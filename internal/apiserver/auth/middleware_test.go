package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWTSecret = "test-secret"
	return cfg
}

func TestIsPublicRoute(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"login", "/api/v1/auth/login", true},
		{"register", "/api/v1/auth/register", true},
		{"refresh", "/api/v1/auth/refresh", true},
		{"health", "/healthz", true},
		{"metrics", "/metrics", true},

		{"create workflow", "/api/v1/workflows", false},
		{"workflow status", "/api/v1/workflows/abc", false},
		{"stats", "/api/v1/stats", false},
		{"me", "/api/v1/auth/me", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isPublicRoute(tt.path)
			if got != tt.expected {
				t.Errorf("isPublicRoute(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("correct horse battery staple", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("wrong password", hash) {
		t.Error("wrong password accepted")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := testConfig()
	token, err := GenerateAccessToken(cfg, 42, "user@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := ParseToken(cfg, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Type != "access" {
		t.Errorf("claims.Type = %q, want access", claims.Type)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("claims.Email = %q", claims.Email)
	}
	id, err := claims.UserID()
	if err != nil || id != 42 {
		t.Errorf("claims.UserID() = %d, %v, want 42", id, err)
	}

	// 错误密钥拒绝
	wrong := testConfig()
	wrong.JWTSecret = "other-secret"
	if _, err := ParseToken(wrong, token); err == nil {
		t.Error("token accepted with wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTokenTTL = -time.Minute
	token, err := GenerateAccessToken(cfg, 1, "user@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	if _, err := ParseToken(cfg, token); err == nil {
		t.Error("expired token accepted")
	}
}

func TestMiddleware(t *testing.T) {
	cfg := testConfig()
	var gotUser *AuthUser
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetAuthUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(cfg)(next)

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/workflows", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		token, _ := GenerateAccessToken(cfg, 7, "user@example.com")
		req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if gotUser == nil || gotUser.ID != 7 {
			t.Errorf("auth user = %+v, want ID 7", gotUser)
		}
	})

	t.Run("token via query param", func(t *testing.T) {
		token, _ := GenerateAccessToken(cfg, 8, "ws@example.com")
		req := httptest.NewRequest("GET", "/api/v1/workflows/abc/events?token="+token, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("refresh token rejected as access", func(t *testing.T) {
		token, _ := GenerateRefreshToken(cfg, 7)
		req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("public route bypasses auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("auth disabled passes everything", func(t *testing.T) {
		open := Middleware(Config{})(next)
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/workflows", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}
