package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/envelope"
	"github.com/zeventbooks/eventangle-edge/internal/errors"
	"github.com/zeventbooks/eventangle-edge/internal/logging"
)

// RecoveryConfig configures the recovery middleware
type RecoveryConfig struct {
	// PrintStack captures the stack trace when a panic occurs
	PrintStack bool
	// LogFunc is called when a panic occurs
	LogFunc func(err interface{}, stack []byte)
}

// DefaultRecoveryConfig provides default recovery settings
var DefaultRecoveryConfig = RecoveryConfig{
	PrintStack: true,
	LogFunc:    defaultLogFunc,
}

func defaultLogFunc(err interface{}, stack []byte) {
	logging.Error("Panic recovered",
		zap.Any("error", err),
		zap.ByteString("stack", stack),
	)
}

// Recovery creates a panic recovery middleware
func Recovery() Middleware {
	return RecoveryWithConfig(DefaultRecoveryConfig)
}

// RecoveryWithConfig turns a panic into an INTERNAL error envelope. The
// panic value never reaches the client.
func RecoveryWithConfig(cfg RecoveryConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				var stack []byte
				if cfg.PrintStack {
					stack = debug.Stack()
				}
				if cfg.LogFunc != nil {
					cfg.LogFunc(rec, stack)
				}

				err := errors.ErrInternal.WithDetails(fmt.Sprintf("panic: %v", rec))
				env := envelope.Failure(err, envelope.Options{
					Production: true,
					CorrID:     w.Header().Get(RequestIDHeader),
				})
				body, _ := env.Bytes()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(env.Status())
				w.Write(body)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
