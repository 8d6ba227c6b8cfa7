package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkravtsov/authd/internal/server/auth"
	"github.com/dkravtsov/authd/internal/server/dispatch"
)

const maxClientNameLength = 100

// BearerAuth resolves the Authorization header, if any, and installs the
// authenticated user id into the request context. Requests without a header
// proceed anonymously; a header that is present but does not carry a valid
// access token is rejected here, before the dispatcher sees the request.
func BearerAuth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeErrorStatus(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := tokens.ParseAccessToken(strings.TrimSpace(raw))
			if err != nil {
				writeErrorStatus(w, http.StatusUnauthorized, "invalid access token")
				return
			}

			ctx := dispatch.WithUserID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerMetadata installs dispatch.Caller values resolved from the request:
// the client address from proxy headers or the socket, the caller name from
// the authenticated identity or the user agent, and the serving host.
// It must run after BearerAuth so an authenticated id takes precedence.
func CallerMetadata(hostname string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := dispatch.UserIDFromContext(r.Context())
			if name == "" {
				name = clientName(r.UserAgent())
			}

			ctx := dispatch.WithCaller(r.Context(), dispatch.Caller{
				RemoteAddr: clientAddr(r),
				Name:       name,
				Host:       hostname,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientName(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ""
	}
	if len(userAgent) > maxClientNameLength {
		userAgent = userAgent[:maxClientNameLength]
	}
	return userAgent
}

func clientAddr(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}

	realIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware throttles credential endpoints per client address.
type RateLimitMiddleware struct {
	perSecond float64
	burst     int
	mu        sync.Mutex
	clients   map[string]*clientLimiter
}

func NewRateLimitMiddleware(perSecond float64, burst int) *RateLimitMiddleware {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}

	return &RateLimitMiddleware{
		perSecond: perSecond,
		burst:     burst,
		clients:   map[string]*clientLimiter{},
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.getLimiter(clientAddr(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeErrorStatus(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) getLimiter(addr string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, exists := m.clients[addr]; exists {
		c.lastSeen = time.Now()
		return c.limiter
	}

	created := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(m.perSecond), m.burst),
		lastSeen: time.Now(),
	}
	m.clients[addr] = created
	m.gcLocked()

	return created.limiter
}

func (m *RateLimitMiddleware) gcLocked() {
	if len(m.clients) < 1000 {
		return
	}

	cutoff := time.Now().Add(-10 * time.Minute)
	for addr, c := range m.clients {
		if c.lastSeen.Before(cutoff) {
			delete(m.clients, addr)
		}
	}
}
