package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxOperatorID ctxKey = iota
	ctxOperatorName
)

func WithOperator(ctx context.Context, operatorID, operatorName string) context.Context {
	ctx = context.WithValue(ctx, ctxOperatorID, operatorID)
	ctx = context.WithValue(ctx, ctxOperatorName, operatorName)
	return ctx
}

func OperatorID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxOperatorID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("operator_id not in context")
}

func OperatorName(ctx context.Context) string {
	if s, ok := ctx.Value(ctxOperatorName).(string); ok {
		return s
	}
	return ""
}
