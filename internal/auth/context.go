package auth

import (
	"context"

	"github.com/rajasatyajit/storeforge/internal/quota"
)

type identityKeyType struct{}

var identityKey = identityKeyType{}

// WithIdentity attaches the resolved caller to ctx
func WithIdentity(ctx context.Context, id *quota.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom retrieves the caller from ctx (nil if absent)
func IdentityFrom(ctx context.Context) *quota.Identity {
	id, _ := ctx.Value(identityKey).(*quota.Identity)
	return id
}
