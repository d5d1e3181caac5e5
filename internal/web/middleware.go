package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/csrf"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"padron/internal/config"
)

// chain applies middlewares in order, so the last one is the outermost.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, m := range middlewares {
		h = m(h)
	}
	return h
}

func csrfProtect(key []byte, cfg config.Config) func(http.Handler) http.Handler {
	protect := csrf.Protect(
		key,
		csrf.Secure(cfg.IsProduction()),
		csrf.Path("/"),
		csrf.TrustedOrigins(cfg.CSRFTrustedOrigins),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// An oversized body leaves the token field unread.
			if bodyTooLarge(r) {
				http.Error(w, tooLargeMessage(cfg.MaxUploadBytes()), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Formulario vencido, recargá la página.", http.StatusForbidden)
		})),
	)
	if cfg.IsProduction() {
		return protect
	}
	// Outside production the server is reached over plain HTTP, so the origin
	// check must not assume https.
	return func(next http.Handler) http.Handler {
		inner := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil {
				r = csrf.PlaintextHTTPRequest(r)
			}
			inner.ServeHTTP(w, r)
		})
	}
}

type bodyLimitKey struct{}

// limitedBody records whether its MaxBytesReader ran past the limit.
type limitedBody struct {
	io.ReadCloser
	exceeded *atomic.Bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		b.exceeded.Store(true)
	}
	return n, err
}

// bodyLimit caps every request body before any middleware parses it. A
// declared length over the limit is refused without reading.
func bodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				w.Header().Set("Connection", "close")
				http.Error(w, tooLargeMessage(limit), http.StatusRequestEntityTooLarge)
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				exceeded := new(atomic.Bool)
				r.Body = &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, limit), exceeded: exceeded}
				r = r.WithContext(context.WithValue(r.Context(), bodyLimitKey{}, exceeded))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bodyTooLarge(r *http.Request) bool {
	exceeded, ok := r.Context().Value(bodyLimitKey{}).(*atomic.Bool)
	return ok && exceeded.Load()
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("El archivo supera el máximo de %d MB.", limit>>20)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				if p := recover(); p != nil {
					logger.Error("panic recovered", zap.Any("panic", p), zap.String("path", r.URL.Path))
					if rec.status == 0 {
						http.Error(rec, "Error interno.", http.StatusInternalServerError)
					}
				}
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				logger.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", rec.bytes),
					zap.Duration("elapsed", time.Since(start)),
				)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
