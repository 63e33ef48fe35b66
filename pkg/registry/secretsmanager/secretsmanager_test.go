package secretsmanager_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssm "github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/eteran/stagegate/pkg/registry"
	"github.com/eteran/stagegate/pkg/registry/secretsmanager"

	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	secrets map[string]*awssm.GetSecretValueOutput
	err     error
	ids     []string
}

func (f *fakeAPI) GetSecretValue(
	ctx context.Context,
	params *awssm.GetSecretValueInput,
	optFns ...func(*awssm.Options),
) (*awssm.GetSecretValueOutput, error) {
	id := aws.ToString(params.SecretId)
	f.ids = append(f.ids, id)
	if f.err != nil {
		return nil, f.err
	}
	out, ok := f.secrets[id]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return out, nil
}

func TestLookup(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{secrets: map[string]*awssm.GetSecretValueOutput{
		"stagegate/ACCESS_KEYS/AK": {SecretString: aws.String(`{"id":"u","is_s3_enabled":true,"metadata":""}`)},
		"stagegate/KEYS/AK":        {SecretString: aws.String("plain-secret")},
		"stagegate/KEYS/BIN":       {SecretBinary: []byte(`"binary-secret"`)},
		"stagegate/KEYS/EMPTY":     {},
	}}
	store := secretsmanager.NewWithAPI(api, "stagegate/")
	ctx := t.Context()

	doc, found, err := store.Lookup(ctx, registry.AccessKeysCollection, "AK")
	require.NoError(t, err, "Lookup error")
	require.True(t, found)
	rec, err := doc.AccessKeyRecord()
	require.NoError(t, err)
	require.True(t, rec.IsS3Enabled)

	doc, found, err = store.Lookup(ctx, registry.SecretKeysCollection, "AK")
	require.NoError(t, err, "Lookup error")
	require.True(t, found)
	secret, err := doc.SecretKey()
	require.NoError(t, err)
	require.Equal(t, "plain-secret", secret, "plain text secrets are wrapped as JSON strings")

	doc, _, err = store.Lookup(ctx, registry.SecretKeysCollection, "BIN")
	require.NoError(t, err, "Lookup error")
	secret, err = doc.SecretKey()
	require.NoError(t, err)
	require.Equal(t, "binary-secret", secret)

	_, found, err = store.Lookup(ctx, registry.SecretKeysCollection, "MISSING")
	require.NoError(t, err, "missing secrets are not errors")
	require.False(t, found)

	_, _, err = store.Lookup(ctx, registry.SecretKeysCollection, "EMPTY")
	require.Error(t, err, "secret without a value")

	require.Equal(t, "stagegate/KEYS/AK", store.SecretID(registry.SecretKeysCollection, "AK"))
}

func TestLookupServiceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("throttled")
	store := secretsmanager.NewWithAPI(&fakeAPI{err: boom}, "")

	_, found, err := store.Lookup(t.Context(), registry.SecretKeysCollection, "AK")
	require.ErrorIs(t, err, boom)
	require.False(t, found)
}

func TestLookupPlainTextSecretsThatLookLikeJSON(t *testing.T) {
	t.Parallel()

	values := map[string]string{
		"NUM":    "12345678901234567890",
		"BOOL":   "true",
		"NULL":   "null",
		"ARRAY":  "[1,2]",
		"QUOTED": `"quoted-secret"`,
	}
	api := &fakeAPI{secrets: map[string]*awssm.GetSecretValueOutput{}}
	for key, value := range values {
		api.secrets["KEYS/"+key] = &awssm.GetSecretValueOutput{SecretString: aws.String(value)}
	}
	store := secretsmanager.NewWithAPI(api, "")

	want := map[string]string{
		"NUM":    "12345678901234567890",
		"BOOL":   "true",
		"NULL":   "null",
		"ARRAY":  "[1,2]",
		"QUOTED": "quoted-secret",
	}
	for key, expected := range want {
		doc, found, err := store.Lookup(t.Context(), registry.SecretKeysCollection, key)
		require.NoError(t, err, "Lookup %s", key)
		require.True(t, found)

		secret, err := doc.SecretKey()
		require.NoError(t, err, "SecretKey %s", key)
		require.Equal(t, expected, secret)
	}
}
