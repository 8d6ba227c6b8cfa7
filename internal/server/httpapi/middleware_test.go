package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkravtsov/authd/internal/server/auth"
	"github.com/dkravtsov/authd/internal/server/dispatch"
)

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{name: "forwarded first entry wins", forwarded: "10.0.0.1, 10.0.0.2", realIP: "10.0.0.9", remoteAddr: "127.0.0.1:4567", want: "10.0.0.1"},
		{name: "forwarded single entry", forwarded: "10.0.0.1", remoteAddr: "127.0.0.1:4567", want: "10.0.0.1"},
		{name: "real ip fallback", realIP: "10.0.0.9", remoteAddr: "127.0.0.1:4567", want: "10.0.0.9"},
		{name: "socket fallback", remoteAddr: "127.0.0.1:4567", want: "127.0.0.1"},
		{name: "unparseable socket kept as is", remoteAddr: "bogus", want: "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}

			assert.Equal(t, tt.want, clientAddr(r))
		})
	}
}

func TestClientName_TruncatesLongUserAgent(t *testing.T) {
	long := strings.Repeat("x", 300)

	got := clientName(long)
	assert.Len(t, got, maxClientNameLength)

	assert.Equal(t, "curl/8.0", clientName("curl/8.0"))
	assert.Equal(t, "", clientName("   "))
}

func TestCallerMetadata_PrefersAuthenticatedIdentity(t *testing.T) {
	var got dispatch.Caller
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = dispatch.CallerFromContext(r.Context())
	})

	handler := CallerMetadata("server-1")(next)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "curl/8.0")
	r = r.WithContext(dispatch.WithUserID(r.Context(), "alice-id"))
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "alice-id", got.Name)
	assert.Equal(t, "server-1", got.Host)

	// Anonymous requests fall back to the user agent.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "curl/8.0")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "curl/8.0", got.Name)
}

func TestBearerAuth(t *testing.T) {
	tokens, err := auth.NewTokenService(auth.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		Issuer:        "authd",
		Audience:      "authd-clients",
	}, nil)
	require.NoError(t, err)

	var gotUserID string
	var reached bool
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		reached = true
		gotUserID = dispatch.UserIDFromContext(r.Context())
	})
	handler := BearerAuth(tokens)(next)

	t.Run("no header passes through anonymously", func(t *testing.T) {
		reached = false
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.True(t, reached)
		assert.Equal(t, "", gotUserID)
	})

	t.Run("valid token resolves the subject", func(t *testing.T) {
		access, err := tokens.IssueAccessToken("alice-id", []string{"RegularUser"})
		require.NoError(t, err)

		reached = false
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+access)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.True(t, reached)
		assert.Equal(t, "alice-id", gotUserID)
	})

	t.Run("malformed header is rejected", func(t *testing.T) {
		reached = false
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		reached = false
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
