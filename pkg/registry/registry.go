// Package registry defines the read-only document stores the credential
// resolver consults. A Store holds JSON documents grouped into named
// collections and keyed by access key.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names used by the gateway.
const (
	AccessKeysCollection   = "ACCESS_KEYS"
	SecretKeysCollection   = "KEYS"
	BucketGrantsCollection = "BUCKET_GRANTS"
)

// ErrMalformedDocument is returned when a stored document cannot be decoded
// into the expected record shape.
var ErrMalformedDocument = errors.New("malformed registry document")

// Store looks up documents by collection and key. A missing document is
// reported as found == false with a nil error; err is reserved for store
// failures.
type Store interface {
	Lookup(ctx context.Context, collection, key string) (doc Document, found bool, err error)
}

// Document is a raw JSON document.
type Document []byte

// Decode unmarshals the document into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return nil
}

// AccessKeyRecord is the document stored in the ACCESS_KEYS collection.
type AccessKeyRecord struct {
	ID          string `json:"id"`
	IsS3Enabled bool   `json:"is_s3_enabled"`
	Metadata    string `json:"metadata"`
}

// AccessKeyRecord decodes the document as an access key record.
func (d Document) AccessKeyRecord() (AccessKeyRecord, error) {
	var rec AccessKeyRecord
	if err := d.Decode(&rec); err != nil {
		return AccessKeyRecord{}, err
	}
	return rec, nil
}

// SecretKey decodes the document as a secret key. Secret documents are bare
// JSON strings.
func (d Document) SecretKey() (string, error) {
	var secret string
	if err := d.Decode(&secret); err != nil {
		return "", err
	}
	if secret == "" {
		return "", fmt.Errorf("%w: empty secret", ErrMalformedDocument)
	}
	return secret, nil
}

// BucketGrantRecord lists the buckets an access key may write to. The
// bucket name "*" grants every bucket.
type BucketGrantRecord struct {
	Buckets []string `json:"buckets"`
}

// BucketGrantRecord decodes the document as a bucket grant record.
func (d Document) BucketGrantRecord() (BucketGrantRecord, error) {
	var rec BucketGrantRecord
	if err := d.Decode(&rec); err != nil {
		return BucketGrantRecord{}, err
	}
	return rec, nil
}

// EncodeDocument marshals v into a Document.
func EncodeDocument(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return Document(data), nil
}

// MustEncodeDocument is EncodeDocument for values that always marshal,
// such as records and strings. It panics on error.
func MustEncodeDocument(v any) Document {
	doc, err := EncodeDocument(v)
	if err != nil {
		panic(err)
	}
	return doc
}
