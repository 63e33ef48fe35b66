package auth

import (
	"context"
	"net/http"

	"github.com/eteran/stagegate/pkg/s3err"
)

type User struct {
	AccessKeyID string
}

type AuthEngine interface {

	// AuthenticateRequest inspects the given HTTP request for valid
	// authentication credentials. It returns (nil, nil) when the request
	// does not use this engine's scheme, and an *s3err.Error when it does
	// but the credentials are rejected.
	AuthenticateRequest(ctx context.Context, rq *http.Request) (*User, error)
}

// SecretSource releases the secret key for an access key. Implementations
// report unknown keys as s3err.InvalidAccessKeyId.
type SecretSource interface {
	GetSecretKey(ctx context.Context, accessKey string) (string, error)
}

// StaticSecrets is a fixed access key to secret key table.
type StaticSecrets map[string]string

func (s StaticSecrets) GetSecretKey(ctx context.Context, accessKey string) (string, error) {
	secret, ok := s[accessKey]
	if !ok || secret == "" {
		return "", s3err.InvalidAccessKeyId
	}
	return secret, nil
}

type userContextKey struct{}

// WithUser returns a copy of ctx carrying the authenticated user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user stored by WithUser, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*User)
	return user, ok && user != nil
}
