package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-export-api/config"
)

func validServiceConfig() config.AppConfig {
	return config.AppConfig{
		Search:  config.SearchConfig{Addresses: []string{"http://es:9200"}},
		Storage: config.StorageConfig{Bucket: "exports", Region: "us-east-1"},
	}
}

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.AppConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.AppConfig) {}},
		{
			name:    "no search nodes",
			mutate:  func(c *config.AppConfig) { c.Search.Addresses = nil },
			wantErr: "SEARCH_ADDRESSES",
		},
		{
			name:    "no bucket",
			mutate:  func(c *config.AppConfig) { c.Storage.Bucket = "" },
			wantErr: "STORAGE_BUCKET",
		},
		{
			name:    "half a key pair",
			mutate:  func(c *config.AppConfig) { c.Storage.AccessKeyID = "AKID" },
			wantErr: "must be set together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validServiceConfig()
			tt.mutate(&cfg)

			err := ValidateServiceConfig(&cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}

	require.Error(t, ValidateServiceConfig(nil))
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", "sqlite")
	t.Setenv("SEARCH_ADDRESSES", "http://es:9200")
	t.Setenv("STORAGE_BUCKET", "exports")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.LedgerDriverSQLite, cfg.Ledger.Driver)
	assert.Equal(t, []string{"http://es:9200"}, cfg.Search.Addresses)
	require.NoError(t, ValidateServiceConfig(&cfg))
}
