package middleware

import "context"

type contextKey string

const (
	ContextKeyOperator   contextKey = "operator"
	ContextKeyAuthMethod contextKey = "auth_method"
)

// OperatorFromContext returns the subject OperatorAuth admitted.
func OperatorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyOperator).(string)
	return v, ok && v != ""
}

func AuthMethodFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyAuthMethod).(string)
	return v, ok
}
