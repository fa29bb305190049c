package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/erp_mirror/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyCorrelationId     = appctx.ContextKeyCorrelationId
	ContextKeyRunId             = appctx.ContextKeyRunId
	ContextKeyAllowMirrorDelete = appctx.ContextKeyAllowMirrorDelete
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetRunIdFromContext(ctx context.Context) (uint, bool) {
	return appctx.GetUint(ctx, ContextKeyRunId)
}

func SetRunIdInContext(ctx context.Context, runId uint) context.Context {
	return appctx.Set(ctx, ContextKeyRunId, runId)
}

func SetAllowMirrorDeleteInContext(ctx context.Context, allow bool) context.Context {
	return appctx.Set(ctx, ContextKeyAllowMirrorDelete, allow)
}
