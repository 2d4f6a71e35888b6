// ABOUTME: HTTP route table and middleware for the gateway
// ABOUTME: Per-client token-bucket limiting guards the endpoints that start upstream work

package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/2389/chatrelay/internal/assets"
	"github.com/2389/chatrelay/internal/metrics"
)

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", g.handleListConversations)
			r.Post("/", g.handleCreateConversation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", g.handleGetConversation)
				r.Delete("/", g.handleDeleteConversation)
				r.Get("/messages", g.handleConversationMessages)
				r.Post("/rename", g.handleRenameConversation)
				r.Get("/export", g.handleExportConversation)
				r.Get("/events", g.handleConversationEvents)
			})
		})
		r.Post("/messages", g.handleSaveMessage)

		r.Group(func(r chi.Router) {
			r.Use(g.limiter.middleware)
			r.Post("/send", g.handleSendMessage)
			r.Post("/transcripts", g.handleTranscribe)
			r.Post("/transcripts/summarize", g.handleSummarize)
		})
	})

	r.Get("/ws", g.handleWebSocket)

	r.Get("/", assets.Index)
	r.Handle("/static/*", http.StripPrefix("/static/", assets.FileServer()))

	if g.config.Metrics.Enabled {
		path := g.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, metrics.Handler())
	}

	return r
}

// idleLimiterTTL is how long a client's bucket is kept after its last request.
const idleLimiterTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter keeps one token bucket per client IP. A non-positive rate
// disables limiting.
type ipLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	lastGC   time.Time
	now      func() time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// allow reports whether the client at ip may make a request now.
func (l *ipLimiter) allow(ip string) bool {
	if l.rps <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastGC) > idleLimiterTTL {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > idleLimiterTTL {
				delete(l.visitors, key)
			}
		}
		l.lastGC = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of RemoteAddr. RealIP has already replaced
// RemoteAddr with the forwarded address when one was sent.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
