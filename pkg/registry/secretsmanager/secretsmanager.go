// Package secretsmanager implements registry.Store on AWS Secrets Manager.
// Each document is one secret named <prefix><collection>/<key>.
package secretsmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smithy "github.com/aws/smithy-go"

	"github.com/eteran/stagegate/pkg/registry"
)

const resourceNotFoundException = "ResourceNotFoundException"

// ManagerAPI is the subset of the Secrets Manager client used by Store.
type ManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// Config configures a Store. Endpoint is optional and points the client at
// a compatible service such as LocalStack.
type Config struct {
	Region   string
	Endpoint string
	Prefix   string
}

// Store is a registry.Store backed by Secrets Manager.
type Store struct {
	api    ManagerAPI
	prefix string
}

var _ registry.Store = (*Store)(nil)

// New loads the default AWS configuration chain and builds a client.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Region == "" {
		return nil, errors.New("secretsmanager: region is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("secretsmanager: load config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client, cfg.Prefix), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api ManagerAPI, prefix string) *Store {
	return &Store{api: api, prefix: prefix}
}

// SecretID returns the secret name that holds collection/key.
func (s *Store) SecretID(collection, key string) string {
	return s.prefix + collection + "/" + key
}

// Lookup fetches the current secret version. A secret string that is not
// valid JSON is returned as a JSON string document, so plain-text secrets
// work for the KEYS collection.
func (s *Store) Lookup(ctx context.Context, collection, key string) (registry.Document, bool, error) {
	id := s.SecretID(collection, key)
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == resourceNotFoundException {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("secretsmanager: get %q: %w", id, err)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case out.SecretBinary != nil:
		raw = out.SecretBinary
	default:
		return nil, false, fmt.Errorf("secretsmanager: %q has no value", id)
	}

	if isJSONDocument(raw) {
		return registry.Document(raw), true, nil
	}
	doc, err := registry.EncodeDocument(string(raw))
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// isJSONDocument reports whether raw is a JSON string or object. Anything
// else, including bare numbers and literals, is a plain-text secret.
func isJSONDocument(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || (trimmed[0] != '"' && trimmed[0] != '{') {
		return false
	}
	return json.Valid(raw)
}
