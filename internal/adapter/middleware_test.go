//go:build unit

package adapter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"library-service/internal/core/model"
)

func actorEcho(got *model.Actor, seen *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, *seen = ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	const secret = "mw-secret"
	staffTok, err := IssueToken(secret, "7", true, time.Hour)
	require.NoError(t, err)
	userTok, err := IssueToken(secret, "u-1", false, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "u-1", false, -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken("other-secret", "u-1", false, time.Hour)
	require.NoError(t, err)
	numeric, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": 42, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1"}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		status  int
		present bool
		want    model.Actor
	}{
		{name: "anonymous", header: "", status: http.StatusNoContent},
		{name: "staff", header: "Bearer " + staffTok, status: http.StatusNoContent, present: true, want: model.Actor{UserID: "7", IsStaff: true}},
		{name: "user lowercase scheme", header: "bearer " + userTok, status: http.StatusNoContent, present: true, want: model.Actor{UserID: "u-1"}},
		{name: "numeric subject", header: "Bearer " + numeric, status: http.StatusNoContent, present: true, want: model.Actor{UserID: "42"}},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + foreign, status: http.StatusUnauthorized},
		{name: "no exp", header: "Bearer " + noExp, status: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc.def", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got model.Actor
			var seen bool
			h := Authenticate(secret)(actorEcho(&got, &seen))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.present, seen)
			if tt.present {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimit(2, zap.NewNop())(ok)

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1002"))
	// buckets are per client address
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1000"))
}

func TestRateLimit_Disabled(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimit(0, zap.NewNop())(ok)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimit_IdleClientsAreEvicted(t *testing.T) {
	now := time.Date(2050, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newRateLimiterStore(5, 10*time.Minute, func() time.Time { return now })

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		require.True(t, store.allow(ip))
	}
	assert.Equal(t, 3, store.size())

	now = now.Add(5 * time.Minute)
	require.True(t, store.allow("10.0.0.1"))
	assert.Equal(t, 3, store.size())

	// .2 and .3 have been idle past the ttl; .1 was seen five minutes ago
	now = now.Add(6 * time.Minute)
	require.True(t, store.allow("10.0.0.4"))
	assert.Equal(t, 2, store.size())
}

func TestAuthenticate_EmptySecretRejectsTokens(t *testing.T) {
	tok, err := IssueToken("some-key", "admin", true, time.Hour)
	require.NoError(t, err)

	var got model.Actor
	var seen bool
	h := Authenticate("")(actorEcho(&got, &seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, seen)

	// anonymous requests still pass
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
