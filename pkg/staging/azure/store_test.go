package azure_test

import (
	"testing"

	"github.com/eteran/stagegate/pkg/staging/azure"

	"github.com/stretchr/testify/require"
)

// Well-known development key published for the Azurite emulator.
const azuriteKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

func TestServiceURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://acct.blob.core.windows.net/", azure.Config{Account: "acct"}.ServiceURL())
	require.Equal(t, "http://127.0.0.1:10000/devstoreaccount1/",
		azure.Config{Endpoint: "http://127.0.0.1:10000/devstoreaccount1/"}.ServiceURL())
	require.Equal(t, "http://127.0.0.1:10000/devstoreaccount1/",
		azure.Config{Endpoint: "http://127.0.0.1:10000/devstoreaccount1"}.ServiceURL())
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     azure.Config
		wantErr bool
	}{
		{name: "missing container", cfg: azure.Config{Account: "a", AccountKey: azuriteKey}, wantErr: true},
		{name: "missing account", cfg: azure.Config{Container: "c", AccountKey: azuriteKey}, wantErr: true},
		{name: "missing key", cfg: azure.Config{Container: "c", Account: "a"}, wantErr: true},
		{name: "bad key", cfg: azure.Config{Container: "c", Account: "a", AccountKey: "not base64!"}, wantErr: true},
		{name: "shared key", cfg: azure.Config{Container: "c", Account: "devstoreaccount1", AccountKey: azuriteKey,
			Endpoint: "http://127.0.0.1:10000/devstoreaccount1"}},
		{name: "connection string", cfg: azure.Config{Container: "c",
			ConnectionString: "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=" + azuriteKey +
				";BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, err := azure.New(t.Context(), tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, store)
		})
	}
}
