// Package config loads the vault daemon configuration from a YAML file.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vadiminshakov/vault/internal/auth"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/notify"
	"github.com/vadiminshakov/vault/internal/transfer"
	"github.com/vadiminshakov/vault/internal/vault"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	BackendWAL    = "wal"
	BackendBadger = "badger"

	DefaultListenAddr    = ":8080"
	DefaultStorageDir    = "./wal"
	DefaultSnapshotEvery = 1000
)

// Config is the validated daemon configuration.
type Config struct {
	// Path is the file the configuration was read from.
	Path              string
	Vault             vault.Config
	ListenAddr        string
	Storage           Storage
	TransferStateFile string
	Kafka             notify.KafkaConfig
	MaxSkew           time.Duration
	TLS               TLS
	CORSOrigins       []string
	LogLevel          zapcore.Level
}

// TLS enables ACME certificates when Domains is non-empty.
type TLS struct {
	Domains  []string
	CacheDir string
}

// Enabled reports whether the API is served over HTTPS.
func (t TLS) Enabled() bool {
	return len(t.Domains) > 0
}

// Storage selects the ledger backend. Dir is the root for every on-disk store.
type Storage struct {
	Backend       string
	Dir           string
	SnapshotEvery int
}

// LedgerDir is where the selected backend keeps the ledger.
func (s Storage) LedgerDir() string {
	if s.Backend == BackendBadger {
		return filepath.Join(s.Dir, "badger")
	}
	return filepath.Join(s.Dir, "ledger")
}

// EventsDir is where the event journal lives.
func (s Storage) EventsDir() string {
	return filepath.Join(s.Dir, "events")
}

// ConfigTmp mirrors the YAML layout before validation.
type ConfigTmp struct {
	Admin          string      `yaml:"admin"`
	AssetA         string      `yaml:"asset_a"`
	AssetB         string      `yaml:"asset_b"`
	MatchingEngine string      `yaml:"matching_engine,omitempty"`
	ListenAddr     string      `yaml:"listen_addr,omitempty"`
	Storage        StorageTmp  `yaml:"storage,omitempty"`
	Transfer       TransferTmp `yaml:"transfer,omitempty"`
	Kafka          KafkaTmp    `yaml:"kafka,omitempty"`
	Auth           AuthTmp     `yaml:"auth,omitempty"`
	TLS            TLSTmp      `yaml:"tls,omitempty"`
	CORSOrigins    []string    `yaml:"cors_origins,omitempty"`
	LogLevel       string      `yaml:"log_level,omitempty"`
}

type StorageTmp struct {
	Backend       string `yaml:"backend,omitempty"`
	Dir           string `yaml:"dir,omitempty"`
	SnapshotEvery int    `yaml:"snapshot_every,omitempty"`
}

type TransferTmp struct {
	StateFile string `yaml:"state_file,omitempty"`
}

type KafkaTmp struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

type TLSTmp struct {
	Domains  []string `yaml:"domains,omitempty"`
	CacheDir string   `yaml:"cache_dir,omitempty"`
}

type AuthTmp struct {
	MaxSkewStr string `yaml:"max_skew,omitempty"`
}

// Wizard produces a config file interactively and returns its path.
type Wizard func() (string, error)

// Get parses the command line. --config loads a YAML file, --setup runs wizard
// first and loads the file it writes.
func Get(wizard Wizard) (Config, error) {
	return get(os.Args[1:], wizard)
}

func get(args []string, wizard Wizard) (Config, error) {
	fs := flag.NewFlagSet("vaultd", flag.ContinueOnError)
	path := fs.String("config", "", "path to yaml config")
	setup := fs.Bool("setup", false, "run the interactive configuration wizard")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *setup {
		if wizard == nil {
			return Config{}, fmt.Errorf("--setup is not supported")
		}
		generated, err := wizard()
		if err != nil {
			return Config{}, fmt.Errorf("setup wizard failed: %w", err)
		}
		*path = generated
	}
	if *path == "" {
		return Config{}, fmt.Errorf("--config is required (or run with --setup)")
	}
	return getYaml(*path)
}

// Save writes c to path as YAML.
func (c ConfigTmp) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var c ConfigTmp
	if err := yaml.Unmarshal(f, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse yaml config %s: %w", path, err)
	}
	cfg, err := c.Parse()
	if err != nil {
		return Config{}, err
	}
	cfg.Path = path
	return cfg, nil
}

// Parse applies defaults and validates every field.
func (c ConfigTmp) Parse() (Config, error) {
	if strings.TrimSpace(c.Admin) == "" {
		return Config{}, fmt.Errorf("'admin' param is required in yaml config")
	}
	cfg := Config{
		Vault: vault.Config{
			Admin:          domain.NewIdentity(c.Admin),
			AssetA:         domain.Asset(strings.TrimSpace(c.AssetA)),
			AssetB:         domain.Asset(strings.TrimSpace(c.AssetB)),
			MatchingEngine: domain.NewIdentity(c.MatchingEngine),
		},
		ListenAddr:        c.ListenAddr,
		TransferStateFile: c.Transfer.StateFile,
		Storage: Storage{
			Backend:       strings.ToLower(c.Storage.Backend),
			Dir:           c.Storage.Dir,
			SnapshotEvery: c.Storage.SnapshotEvery,
		},
		Kafka: notify.KafkaConfig{
			Brokers: c.Kafka.Brokers,
			Topic:   c.Kafka.Topic,
		},
		MaxSkew: auth.DefaultMaxSkew,
	}
	if err := cfg.Vault.Validate(); err != nil {
		return Config{}, fmt.Errorf("incorrect 'asset_a'/'asset_b' params in yaml config (two different non-empty assets expected), error: %w", err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	switch cfg.Storage.Backend {
	case "":
		cfg.Storage.Backend = BackendWAL
	case BackendWAL, BackendBadger:
	default:
		return Config{}, fmt.Errorf("incorrect 'storage.backend' param in yaml config: %q (must be %s or %s)",
			c.Storage.Backend, BackendWAL, BackendBadger)
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = DefaultStorageDir
	}
	if cfg.Storage.SnapshotEvery == 0 {
		cfg.Storage.SnapshotEvery = DefaultSnapshotEvery
	}
	if cfg.Storage.SnapshotEvery < 0 {
		return Config{}, fmt.Errorf("incorrect 'storage.snapshot_every' param in yaml config (must be positive), got %d", cfg.Storage.SnapshotEvery)
	}

	if cfg.TransferStateFile == "" {
		cfg.TransferStateFile = transfer.DefaultStateFile
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = notify.DefaultTopic
	}
	for _, b := range cfg.Kafka.Brokers {
		if strings.TrimSpace(b) == "" {
			return Config{}, fmt.Errorf("incorrect 'kafka.brokers' param in yaml config: empty broker address")
		}
	}

	if c.Auth.MaxSkewStr != "" {
		skew, err := time.ParseDuration(c.Auth.MaxSkewStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'auth.max_skew' param in yaml config (correct format is 30s), error: %w", err)
		}
		if skew <= 0 {
			return Config{}, fmt.Errorf("incorrect 'auth.max_skew' param in yaml config (must be positive), got %s", skew)
		}
		cfg.MaxSkew = skew
	}

	cfg.TLS = TLS{Domains: c.TLS.Domains, CacheDir: c.TLS.CacheDir}
	if cfg.TLS.Enabled() && cfg.TLS.CacheDir == "" {
		cfg.TLS.CacheDir = filepath.Join(cfg.Storage.Dir, "certs")
	}

	for _, o := range c.CORSOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return Config{}, fmt.Errorf("incorrect 'cors_origins' param in yaml config: %q (must be * or start with http:// or https://)", o)
		}
	}
	cfg.CORSOrigins = c.CORSOrigins

	cfg.LogLevel = zapcore.InfoLevel
	if c.LogLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return Config{}, fmt.Errorf("incorrect 'log_level' param in yaml config: %q, error: %w", c.LogLevel, err)
		}
	}

	return cfg, nil
}
