package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/notify"
	"github.com/vadiminshakov/vault/internal/transfer"
	"go.uber.org/zap/zapcore"
)

const adminAddr = "0x52908400098527886e0f7030069857d2e4169ee7"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestGetYaml_Defaults(t *testing.T) {
	path := writeConfig(t, `
admin: `+adminAddr+`
asset_a: XLM
asset_b: USDC
`)

	cfg, err := getYaml(path)
	require.NoError(t, err)

	assert.Equal(t, domain.NewIdentity(adminAddr), cfg.Vault.Admin)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", cfg.Vault.Admin.String())
	assert.Equal(t, domain.Asset("XLM"), cfg.Vault.AssetA)
	assert.Equal(t, domain.Asset("USDC"), cfg.Vault.AssetB)
	assert.True(t, cfg.Vault.MatchingEngine.IsZero())
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, BackendWAL, cfg.Storage.Backend)
	assert.Equal(t, DefaultStorageDir, cfg.Storage.Dir)
	assert.Equal(t, DefaultSnapshotEvery, cfg.Storage.SnapshotEvery)
	assert.Equal(t, transfer.DefaultStateFile, cfg.TransferStateFile)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Kafka.Topic)
	assert.Equal(t, 30*time.Second, cfg.MaxSkew)
	assert.False(t, cfg.TLS.Enabled())
	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
	assert.Equal(t, path, cfg.Path)
}

func TestGetYaml_AllFields(t *testing.T) {
	path := writeConfig(t, `
admin: `+adminAddr+`
asset_a: XLM
asset_b: USDC
matching_engine: engine-1
listen_addr: 127.0.0.1:9000
storage:
  backend: Badger
  dir: /var/lib/vault
  snapshot_every: 50
transfer:
  state_file: /var/lib/vault/holdings.json
kafka:
  brokers: [localhost:9092, localhost:9093]
auth:
  max_skew: 1m
tls:
  domains: [vault.example.com]
cors_origins: ["https://app.example.com"]
log_level: debug
`)

	cfg, err := getYaml(path)
	require.NoError(t, err)

	assert.Equal(t, domain.Identity("engine-1"), cfg.Vault.MatchingEngine)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join("/var/lib/vault", "badger"), cfg.Storage.LedgerDir())
	assert.Equal(t, filepath.Join("/var/lib/vault", "events"), cfg.Storage.EventsDir())
	assert.Equal(t, 50, cfg.Storage.SnapshotEvery)
	assert.Equal(t, "/var/lib/vault/holdings.json", cfg.TransferStateFile)
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.Kafka.Brokers)
	assert.Equal(t, notify.DefaultTopic, cfg.Kafka.Topic)
	assert.Equal(t, time.Minute, cfg.MaxSkew)
	assert.True(t, cfg.TLS.Enabled())
	assert.Equal(t, filepath.Join("/var/lib/vault", "certs"), cfg.TLS.CacheDir)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
}

func TestParse_Invalid(t *testing.T) {
	valid := func() ConfigTmp {
		return ConfigTmp{Admin: adminAddr, AssetA: "XLM", AssetB: "USDC"}
	}

	tests := []struct {
		name   string
		mutate func(c *ConfigTmp)
		errMsg string
	}{
		{"missing admin", func(c *ConfigTmp) { c.Admin = " " }, "'admin'"},
		{"missing asset", func(c *ConfigTmp) { c.AssetB = "" }, "'asset_a'/'asset_b'"},
		{"same assets", func(c *ConfigTmp) { c.AssetB = "XLM" }, "'asset_a'/'asset_b'"},
		{"unknown backend", func(c *ConfigTmp) { c.Storage.Backend = "postgres" }, "'storage.backend'"},
		{"negative snapshot", func(c *ConfigTmp) { c.Storage.SnapshotEvery = -1 }, "'storage.snapshot_every'"},
		{"empty broker", func(c *ConfigTmp) { c.Kafka.Brokers = []string{""} }, "'kafka.brokers'"},
		{"bad skew", func(c *ConfigTmp) { c.Auth.MaxSkewStr = "soon" }, "'auth.max_skew'"},
		{"zero skew", func(c *ConfigTmp) { c.Auth.MaxSkewStr = "0s" }, "'auth.max_skew'"},
		{"bad level", func(c *ConfigTmp) { c.LogLevel = "loud" }, "'log_level'"},
		{"bad origin", func(c *ConfigTmp) { c.CORSOrigins = []string{"app.example.com"} }, "'cors_origins'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			_, err := c.Parse()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestGet_Flags(t *testing.T) {
	path := writeConfig(t, "admin: "+adminAddr+"\nasset_a: XLM\nasset_b: USDC\n")

	t.Run("config flag", func(t *testing.T) {
		cfg, err := get([]string{"--config", path}, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.Asset("XLM"), cfg.Vault.AssetA)
	})

	t.Run("missing config", func(t *testing.T) {
		_, err := get(nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--config is required")
	})

	t.Run("setup runs wizard", func(t *testing.T) {
		called := false
		cfg, err := get([]string{"--setup"}, func() (string, error) {
			called = true
			return path, nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, domain.Asset("USDC"), cfg.Vault.AssetB)
	})

	t.Run("setup without wizard", func(t *testing.T) {
		_, err := get([]string{"--setup"}, nil)
		require.Error(t, err)
	})

	t.Run("unreadable file", func(t *testing.T) {
		_, err := get([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, nil)
		require.Error(t, err)
	})
}

func TestConfigTmp_RoundTrip(t *testing.T) {
	in := ConfigTmp{
		Admin:    adminAddr,
		AssetA:   "XLM",
		AssetB:   "USDC",
		Storage:  StorageTmp{Backend: BackendWAL, Dir: "./data"},
		Kafka:    KafkaTmp{Brokers: []string{"localhost:9092"}, Topic: "settlements"},
		Auth:     AuthTmp{MaxSkewStr: "45s"},
		LogLevel: "warn",
	}

	path := filepath.Join(t.TempDir(), "config.gen.yaml")
	require.NoError(t, in.Save(path))
	cfg, err := getYaml(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("./data", "ledger"), cfg.Storage.LedgerDir())
	assert.Equal(t, "settlements", cfg.Kafka.Topic)
	assert.Equal(t, 45*time.Second, cfg.MaxSkew)
	assert.Equal(t, zapcore.WarnLevel, cfg.LogLevel)
}
