package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper extends the Kratos log.Helper with request-oriented convenience
// methods that stamp a "type" field for downstream filtering.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates an enhanced log helper
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

// Request logs one HTTP request with its outcome.
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)
}

// RequestWithContext logs one HTTP request including the request ID from ctx.
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	allKvs := append(kvs, "request_id", reqCtx.RequestID)
	h.Request(method, url, status, durationMs, allKvs...)
}

// Slow logs a slow-request warning.
func (h *LogHelper) Slow(ctx context.Context, method, url string, durationMs int64) {
	reqCtx := GetRequestContext(ctx)
	h.Warnw(
		"msg", fmt.Sprintf("Slow request detected | %s %s | %dms", method, url, durationMs),
		"type", "slow_request",
		"request_id", reqCtx.RequestID,
		"method", method,
		"url", url,
		"duration_ms", durationMs,
	)
}

// Breaker logs a circuit breaker state change.
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "circuit_breaker")
	h.Warnw(allKvs...)
}
