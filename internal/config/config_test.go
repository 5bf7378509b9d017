package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.DB.Provider)
	require.Equal(t, []string{"voting_record", "committees"}, cfg.Fetch.BackgroundOnlyFields)
	require.Equal(t, time.Second, cfg.Background.PollInterval)
	require.Equal(t, 200*time.Millisecond, cfg.Background.EntityDelay)
	require.Equal(t, 5*time.Second, cfg.Background.StopTimeout)
	require.Equal(t, "noop", cfg.Archive.Provider)
	require.Equal(t, "noop", cfg.Notify.Provider)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	payload := `
server:
  port: 9999
db:
  provider: postgres
  dsn: postgres://localhost/civiclens
background:
  stop_timeout: 10s
fetch:
  field_ttls:
    latest_tweet: 15m
`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.DB.Provider)
	require.Equal(t, 10*time.Second, cfg.Background.StopTimeout)
	require.Equal(t, 15*time.Minute, cfg.Fetch.FieldTTLs["latest_tweet"])
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := Config{}
	cfg.Server.Port = 8080
	cfg.DB.Provider = "postgres"
	cfg.Background.PollInterval = time.Second
	cfg.Background.StopTimeout = time.Second

	require.Error(t, cfg.Validate())
}

func TestValidateRejectsAuthWithoutKey(t *testing.T) {
	cfg := Config{}
	cfg.Server.Port = 8080
	cfg.DB.Provider = "memory"
	cfg.Background.PollInterval = time.Second
	cfg.Background.StopTimeout = time.Second
	cfg.Auth.Enabled = true

	require.Error(t, cfg.Validate())
}

func TestValidateRejectsGCSWithoutBucket(t *testing.T) {
	cfg := Config{}
	cfg.Server.Port = 8080
	cfg.DB.Provider = "memory"
	cfg.Background.PollInterval = time.Second
	cfg.Background.StopTimeout = time.Second
	cfg.Archive.Provider = "gcs"

	require.Error(t, cfg.Validate())
}

func TestBackgroundOnlySet(t *testing.T) {
	cfg := Config{}
	cfg.Fetch.BackgroundOnlyFields = []string{"voting_record", "committees"}

	set := cfg.BackgroundOnlySet()
	require.Contains(t, set, "voting_record")
	require.Contains(t, set, "committees")
	require.NotContains(t, set, "bio")
}
