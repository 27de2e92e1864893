package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cleanup := func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("POSTGRES_ADDR")
		os.Unsetenv("POSTGRES_USER")
		os.Unsetenv("POSTGRES_PASSWORD")
		os.Unsetenv("POSTGRES_DB")
		os.Unsetenv("SYNC_PROFILE_ID")
		os.Unsetenv("SYNC_CLIENT_ID")
		os.Unsetenv("SYNC_SERVER_URL")
		os.Unsetenv("DIAGNOSTICS_PORT")
	}

	t.Run("missing_database_config_fails", func(t *testing.T) {
		cleanup()
		defer cleanup()
		cfg, err := Load()
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing database config")
	})

	t.Run("missing_profile_id_fails", func(t *testing.T) {
		cleanup()
		defer cleanup()
		os.Setenv("DATABASE_URL", "postgres://localhost:5432/db")

		cfg, err := Load()
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing SYNC_PROFILE_ID")
	})

	t.Run("missing_server_url_fails", func(t *testing.T) {
		cleanup()
		defer cleanup()
		os.Setenv("DATABASE_URL", "postgres://localhost:5432/db")
		os.Setenv("SYNC_PROFILE_ID", "profile-1")

		cfg, err := Load()
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing SYNC_SERVER_URL")
	})

	t.Run("valid_env_loads_and_generates_client_id", func(t *testing.T) {
		cleanup()
		defer cleanup()
		os.Setenv("DATABASE_URL", "postgres://localhost:5432/db")
		os.Setenv("SYNC_PROFILE_ID", "profile-1")
		os.Setenv("SYNC_SERVER_URL", "https://sync.example.com/")
		os.Setenv("DIAGNOSTICS_PORT", "9090")

		cfg, err := Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "profile-1", cfg.ProfileID)
		assert.NotEmpty(t, cfg.ClientID, "ClientID is generated when unset")
		assert.Equal(t, "https://sync.example.com", cfg.SyncServerURL, "trailing slash is trimmed")
		assert.Equal(t, 9090, cfg.Port)
	})

	t.Run("explicit_client_id_is_kept", func(t *testing.T) {
		cleanup()
		defer cleanup()
		os.Setenv("DATABASE_URL", "postgres://localhost:5432/db")
		os.Setenv("SYNC_PROFILE_ID", "profile-1")
		os.Setenv("SYNC_SERVER_URL", "https://sync.example.com")
		os.Setenv("SYNC_CLIENT_ID", "device-42")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "device-42", cfg.ClientID)
	})
}
