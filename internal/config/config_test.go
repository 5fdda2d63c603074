package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromTOML(t *testing.T, content string) (*Config, error) {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), "cardcat.toml")
	err := os.WriteFile(configFile, []byte(content), 0o644)
	require.NoError(t, err)

	viper.Reset()
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		// Corrupt files are expected in some tests; Load still runs on
		// whatever viper holds.
		t.Logf("config read error: %v", err)
	}
	return Load()
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := loadFromTOML(t, `
[settings]
page_size = 50
max_parallel = 2
request_timeout = "10s"

[registries.quay]
endpoint = "https://quay.io"
auth = "token"
username = "bot"
password = "hunter2"
monitored = ["coreos/etcd", "prometheus/prometheus"]

[registries.podman]
endpoint = "local://podman"

[registries.testdata]
endpoint = "mock://massive-registry"
`)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 50, cfg.Settings.PageSize)
	assert.Equal(t, 2, cfg.Settings.MaxParallel)
	assert.Equal(t, 10*time.Second, cfg.Settings.RequestTimeout)
	assert.Equal(t, 1000, cfg.Settings.AutoLoadThreshold)

	require.Len(t, cfg.Registries, 3)

	quay := cfg.Registries["quay"]
	assert.Equal(t, "quay", quay.ID)
	assert.Equal(t, KindRemote, quay.Kind())
	assert.Equal(t, AuthToken, quay.Auth)
	assert.Equal(t, []string{"coreos/etcd", "prometheus/prometheus"}, quay.Monitored)

	assert.Equal(t, KindLocal, cfg.Registries["podman"].Kind())
	assert.Equal(t, "podman", cfg.Registries["podman"].Runtime())
	assert.Equal(t, KindMock, cfg.Registries["testdata"].Kind())
}

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Settings.PageSize)
	assert.Equal(t, 4, cfg.Settings.MaxParallel)
	assert.Equal(t, 30*time.Second, cfg.Settings.RequestTimeout)
	assert.False(t, cfg.Settings.Insecure)
	assert.Empty(t, cfg.Registries)
}

func TestLoad_PartialSettingsKeepDefaults(t *testing.T) {
	cfg, err := loadFromTOML(t, `
[settings]
page_size = 25
`)
	require.NoError(t, err)

	// Fields the file omits must fall back, not zero out.
	assert.Equal(t, 25, cfg.Settings.PageSize)
	assert.Equal(t, 4, cfg.Settings.MaxParallel)
	assert.Equal(t, 30*time.Second, cfg.Settings.RequestTimeout)
	assert.Equal(t, 1000, cfg.Settings.AutoLoadThreshold)
}

func TestLoad_CorruptFileFallsBackToEmpty(t *testing.T) {
	cfg, err := loadFromTOML(t, `[[[not toml at all`)
	require.NoError(t, err)
	assert.Empty(t, cfg.Registries)
	assert.Equal(t, 100, cfg.Settings.PageSize)
}

func TestLoad_InvalidRegistrySkipped(t *testing.T) {
	cfg, err := loadFromTOML(t, `
[registries.good]
endpoint = "https://registry.example.com"

[registries.nocreds]
endpoint = "https://private.example.com"
auth = "basic"

[registries.badauth]
endpoint = "https://other.example.com"
auth = "kerberos"
`)
	require.NoError(t, err)
	require.Len(t, cfg.Registries, 1)
	assert.Contains(t, cfg.Registries, "good")
	assert.Equal(t, AuthNone, cfg.Registries["good"].Auth)
}

func TestConfig_DescriptorsOrdered(t *testing.T) {
	cfg := &Config{Registries: map[string]Registry{
		"zeta":  {ID: "zeta"},
		"alpha": {ID: "alpha"},
		"mid":   {ID: "mid"},
	}}

	descs := cfg.Descriptors()
	require.Len(t, descs, 3)
	assert.Equal(t, "alpha", descs[0].ID)
	assert.Equal(t, "mid", descs[1].ID)
	assert.Equal(t, "zeta", descs[2].ID)
}

func TestRegistry_Kind(t *testing.T) {
	tests := []struct {
		endpoint string
		expected Kind
	}{
		{"https://quay.io", KindRemote},
		{"http://localhost:5000", KindRemote},
		{"local://podman", KindLocal},
		{"local://docker", KindLocal},
		{"mock://public-registry", KindMock},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			r := Registry{Endpoint: tt.endpoint}
			assert.Equal(t, tt.expected, r.Kind())
		})
	}
}
