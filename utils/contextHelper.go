package utils

import (
	"context"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/appctx"
)

var (
	ContextKeyBrandId       = appctx.ContextKeyBrandId
	ContextKeyAccountId     = appctx.ContextKeyAccountId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetBrandIdInContext(ctx context.Context, brandId string) context.Context {
	return appctx.Set(ctx, ContextKeyBrandId, brandId)
}

func SetAccountIdInContext(ctx context.Context, accountId uint) context.Context {
	return appctx.Set(ctx, ContextKeyAccountId, accountId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
