package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
store:
  driver: postgres
  dsn: postgres://localhost/sweep?sslmode=disable
write_period: 2s
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, cfg.Store.Driver)
	require.Equal(t, "postgres://localhost/sweep?sslmode=disable", cfg.Store.DSN)
	require.Equal(t, 2*time.Second, cfg.WritePeriod)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SWEEP_STORE_DRIVER", "postgres")
	t.Setenv("SWEEP_STORE_DSN", "postgres://db/sweep")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, cfg.Store.Driver)
	require.Equal(t, "postgres://db/sweep", cfg.Store.DSN)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		give    Config
		wantErr string
	}{
		{
			name: "valid",
			give: Default(),
		},
		{
			name: "unsupported driver",
			give: Config{
				Store:       StoreConfig{Driver: "sqlite", DSN: "file.db"},
				WritePeriod: time.Second,
			},
			wantErr: "unsupported store driver",
		},
		{
			name: "empty dsn",
			give: Config{
				Store:       StoreConfig{Driver: DriverRAMSQL},
				WritePeriod: time.Second,
			},
			wantErr: "DSN must not be empty",
		},
		{
			name: "negative write period",
			give: Config{
				Store:       StoreConfig{Driver: DriverRAMSQL, DSN: "x"},
				WritePeriod: -time.Second,
			},
			wantErr: "write period",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.give.Validate()
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}
