package audit

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	clientIPKey  ctxKey = "audit_client_ip"
)

// UnknownIP is recorded when the origin address cannot be determined.
const UnknownIP = "unknown"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClientIP attaches the caller's origin address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the origin address or UnknownIP.
func ClientIPFromContext(ctx context.Context) string {
	if ctx != nil {
		if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
			return v
		}
	}
	return UnknownIP
}
