package chi

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	logpkg "github.com/kailas-cloud/threadscout/internal/logger"
	"github.com/kailas-cloud/threadscout/internal/usecase/ratelimit"
)

type inboundLimiter interface {
	Check(identity string) ratelimit.Decision
}

// JSONRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func JSONRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.Stack("stacktrace"),
					)
					writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func WideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}

// RequestTimeout bounds each request's context. The pipeline reports the
// expired deadline as an upstream timeout, which maps to 504.
func RequestTimeout(d time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityResolver derives the inbound limiter key of a request.
type IdentityResolver struct {
	// TrustedProxies are peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix
	// KeyedAuth keys callers by bearer token. Only set when tokens are validated,
	// otherwise a caller could mint a fresh identity per request.
	KeyedAuth bool
}

// Identity returns "key:<token>" for authenticated callers, otherwise
// "ip:<addr>". The address is the peer, or, when the peer is a trusted proxy,
// the right-most X-Forwarded-For hop that is not itself trusted.
func (ir IdentityResolver) Identity(r *http.Request) string {
	if ir.KeyedAuth {
		if token, ok := bearerToken(r); ok && token != "" {
			return "key:" + token
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !ir.trusted(peer) {
		return "ip:" + host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !ir.trusted(hop) {
			return "ip:" + hop.Unmap().String()
		}
	}
	return "ip:" + host
}

func (ir IdentityResolver) trusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range ir.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
