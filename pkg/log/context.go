package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is the private key type for storing RequestContext
type contextKey string

const requestContextKey contextKey = "replylane_request_context"

// RequestContext carries request tracing information through the pipeline.
type RequestContext struct {
	RequestID   string    // short request ID, e.g. mgrn0zfqda
	PhoneNumber string    // subject of the pipeline execution
	StartTime   time.Time // request start time
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 charset (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID generates a 10-character random request ID.
// Base36 encoding keeps it short and log-friendly compared to a UUID.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext injects a RequestContext, usually from middleware, so
// the whole request lifecycle shares one trace identity.
func WithRequestContext(ctx context.Context, requestID, phoneNumber string) context.Context {
	reqCtx := &RequestContext{
		RequestID:   requestID,
		PhoneNumber: phoneNumber,
		StartTime:   time.Now(),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext extracts the RequestContext. It returns a default empty
// context when none is present, so callers can skip nil checks.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return &RequestContext{RequestID: "unknown"}
	}

	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}

	return &RequestContext{RequestID: "unknown"}
}
