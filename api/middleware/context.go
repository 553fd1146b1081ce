package middleware

import "context"

type contextKey string

const (
	ctxCashierID contextKey = "cashier_id"
	ctxManagerID contextKey = "manager_id"
)

// CashierIDFromContext returns the cashier reported by the UI, or "".
func CashierIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxCashierID)
}

// ManagerIDFromContext returns the manager whose approval token was accepted.
func ManagerIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxManagerID)
}

func WithCashierID(ctx context.Context, cashierID string) context.Context {
	return withString(ctx, ctxCashierID, cashierID)
}

func WithManagerID(ctx context.Context, managerID string) context.Context {
	return withString(ctx, ctxManagerID, managerID)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}
