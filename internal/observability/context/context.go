package obscontext

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	purchaseIDKey
	customerKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithPurchaseID tags the context with the purchase being charged.
func WithPurchaseID(ctx context.Context, purchaseID string) context.Context {
	return context.WithValue(ctx, purchaseIDKey, strings.TrimSpace(purchaseID))
}

func PurchaseIDFromContext(ctx context.Context) string {
	return stringValue(ctx, purchaseIDKey)
}

func WithCustomer(ctx context.Context, customer string) context.Context {
	return context.WithValue(ctx, customerKey, strings.TrimSpace(customer))
}

func CustomerFromContext(ctx context.Context) string {
	return stringValue(ctx, customerKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
