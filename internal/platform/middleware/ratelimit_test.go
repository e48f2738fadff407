package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/clinic/booking/internal/platform/auth"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func signedToken(t *testing.T, userID, role string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

// newLimitedAPI mounts the appointment listing behind JWT auth and the rate
// limiter, in the order the server uses.
func newLimitedAPI(cfg RateLimitConfig) *echo.Echo {
	e := echo.New()
	e.Use(auth.JWTMiddleware(auth.JWTConfig{SigningKey: testSigningKey, Skipper: auth.AuthSkipper}))
	e.Use(RateLimit(cfg))
	e.GET("/api/v1/appointments", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"data": []string{}})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestRateLimit_ThrottlesEachUser(t *testing.T) {
	e := newLimitedAPI(RateLimitConfig{RequestsPerSecond: 0.01, BurstSize: 2})
	doctor := signedToken(t, "doctor-1", "doctor")
	secretary := signedToken(t, "secretary-1", "secretary")

	list := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.RemoteAddr = "192.0.2.10:5000"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := list(doctor); rec.Code != http.StatusOK {
			t.Fatalf("doctor request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := list(doctor)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected doctor to be throttled, got %d", rec.Code)
	}
	if retry, err := strconv.Atoi(rec.Header().Get("Retry-After")); err != nil || retry < 1 {
		t.Errorf("expected a positive Retry-After, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	// same address, different user: separate bucket
	if rec := list(secretary); rec.Code != http.StatusOK {
		t.Fatalf("expected secretary to be unaffected, got %d", rec.Code)
	}
}

func TestRateLimit_AnonymousKeyedByAddress(t *testing.T) {
	e := newLimitedAPI(RateLimitConfig{RequestsPerSecond: 0.01, BurstSize: 1})

	health := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := health("198.51.100.1:1000"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := health("198.51.100.1:1001"); code != http.StatusTooManyRequests {
		t.Fatalf("expected the same address to be throttled, got %d", code)
	}
	if code := health("198.51.100.2:1000"); code != http.StatusOK {
		t.Fatalf("expected another address to pass, got %d", code)
	}
}

func TestRateLimit_LimitHeader(t *testing.T) {
	e := newLimitedAPI(RateLimitConfig{RequestsPerSecond: 20, BurstSize: 40})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "patient-1", "patient"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "20" {
		t.Errorf("expected X-RateLimit-Limit 20, got %q", got)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	b := newTokenBucket(2, 1)
	if !b.allow() {
		t.Fatal("expected the first token")
	}
	if b.allow() {
		t.Fatal("expected the bucket to be empty")
	}
	b.lastRefill = b.lastRefill.Add(-time.Second)
	if !b.allow() {
		t.Fatal("expected a token after one second at 2/s")
	}

	empty := newTokenBucket(0, 1)
	empty.allow()
	if ra := empty.retryAfter(); ra != 1 {
		t.Errorf("expected retryAfter 1 when the bucket never refills, got %d", ra)
	}
}

func TestRateLimiterStore_ReusesBuckets(t *testing.T) {
	store := newRateLimiterStore(DefaultRateLimitConfig())
	a := store.getBucket("user:doctor-1")
	if a != store.getBucket("user:doctor-1") {
		t.Error("expected the same bucket for the same user")
	}
	if a == store.getBucket("ip:192.0.2.10") {
		t.Error("expected users and addresses to use separate buckets")
	}
	if a.maxTokens != 40 || a.refillRate != 20 {
		t.Errorf("unexpected default bucket %+v", a)
	}
}
