package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/eteran/stagegate/pkg/s3err"
)

// BasicAuthEngine accepts HTTP Basic credentials of the form
// accessKey:secretKey.
type BasicAuthEngine struct {
	secrets SecretSource
}

func NewBasicAuthEngine(secrets SecretSource) *BasicAuthEngine {
	return &BasicAuthEngine{secrets: secrets}
}

// AuthenticateRequest checks the Authorization header for valid Basic Auth
// credentials.
func (e *BasicAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	accessKey, password, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	secret, err := e.secrets.GetSecretKey(ctx, accessKey)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(secret), []byte(password)) != 1 {
		return nil, s3err.SignatureDoesNotMatch
	}

	return &User{AccessKeyID: accessKey}, nil
}
