package log

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func Logger(l *zap.Logger, name string) func(next http.Handler) http.Handler {
	if l == nil {
		panic("log.Logger received a nil *zap.Logger")
	}

	logger := l.WithOptions(zap.AddCallerSkip(1)).Named(name)

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t1 := time.Now()
			requestID := middleware.GetReqID(r.Context())

			defer func() {
				latency := time.Since(t1)
				statusCode := ww.Status()
				bytesWritten := ww.BytesWritten()
				statusText := statusLabel(statusCode)

				fields := []zap.Field{
					zap.String("type", "http_request"),
					zap.String("request_id", requestID),
					zap.String("http_method", r.Method),
					zap.String("http_path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Int("http_status_code", statusCode),
					zap.String("http_status_text", statusText),
					zap.Int64("response_bytes", int64(bytesWritten)),
					zap.Duration("latency", latency),
				}

				msg := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

				switch {
				case statusCode >= 500:
					logger.Error(msg, fields...)
				case statusCode >= 400:
					logger.Warn(msg, fields...)
				default:
					if isScrape(r.Method, r.URL.Path) {
						logger.Debug(msg, fields...)
					} else {
						logger.Info(msg, fields...)
					}
				}
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// isScrape reports health checks and prometheus scrapes, logged at debug.
func isScrape(method string, path string) bool {
	return method == http.MethodGet && (path == "/health" || path == "/metrics")
}
func statusLabel(status int) string {
	switch {
	case status >= 100 && status < 300:
		return fmt.Sprintf("%d OK", status)
	case status >= 300 && status < 400:
		return fmt.Sprintf("%d Redirect", status)
	case status >= 400 && status < 500:
		return fmt.Sprintf("%d Client Error", status)
	case status >= 500:
		return fmt.Sprintf("%d Server Error", status)
	default:
		return fmt.Sprintf("%d Unknown", status)
	}
}
