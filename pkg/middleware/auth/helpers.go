package auth

import (
	"context"
	"slices"
)

type ctxKey int

const userCtxKey ctxKey = 0

// UserFromContext returns the resolved caller, or the zero User.
func UserFromContext(ctx context.Context) User {
	if user, ok := ctx.Value(userCtxKey).(User); ok {
		return user
	}
	return User{}
}

// WithUser stores u on ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userCtxKey, u)
}

func (m *Middleware) GetUser(ctx context.Context) User { return UserFromContext(ctx) }

func (m *Middleware) IsUser(ctx context.Context, usernames ...string) bool {
	u := UserFromContext(ctx)
	return u.Username != "" && slices.Contains(usernames, u.Username)
}

// InOrg reports whether the caller belongs to one of orgs.
func (m *Middleware) InOrg(ctx context.Context, orgs ...string) bool {
	u := UserFromContext(ctx)
	return u.OrgID != "" && slices.Contains(orgs, u.OrgID)
}

func (m *Middleware) IsAuthenticated(ctx context.Context) bool {
	return UserFromContext(ctx).Username != ""
}
