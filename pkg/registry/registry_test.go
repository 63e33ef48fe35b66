package registry_test

import (
	"testing"

	"github.com/eteran/stagegate/pkg/registry"

	"github.com/stretchr/testify/require"
)

func TestAccessKeyRecordDecode(t *testing.T) {
	t.Parallel()

	doc := registry.Document(`{"id":"user-1","is_s3_enabled":true,"metadata":"m"}`)
	rec, err := doc.AccessKeyRecord()
	require.NoError(t, err, "AccessKeyRecord error")
	require.Equal(t, registry.AccessKeyRecord{ID: "user-1", IsS3Enabled: true, Metadata: "m"}, rec)

	_, err = registry.Document(`{"id":`).AccessKeyRecord()
	require.ErrorIs(t, err, registry.ErrMalformedDocument)
}

func TestSecretKeyDecode(t *testing.T) {
	t.Parallel()

	secret, err := registry.MustEncodeDocument("s3cr3t").SecretKey()
	require.NoError(t, err, "SecretKey error")
	require.Equal(t, "s3cr3t", secret)

	_, err = registry.Document(`""`).SecretKey()
	require.ErrorIs(t, err, registry.ErrMalformedDocument, "empty secret")

	_, err = registry.Document(`{"secret":"x"}`).SecretKey()
	require.ErrorIs(t, err, registry.ErrMalformedDocument, "object instead of string")
}
