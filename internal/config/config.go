package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/x5th/x-leverage/internal/ledger"
)

// EnvPrefix namespaces every environment variable, e.g. XLEV_DATABASE_URL.
const EnvPrefix = "XLEV"

var (
	ErrMissingDatabaseURL = errors.New("config: database.url is required")
	ErrInvalidPort        = errors.New("config: port must be in [1, 65535]")
	ErrInvalidUUID        = errors.New("config: invalid uuid")
	ErrUnknownPoolAsset   = errors.New("config: unknown pool asset")
	ErrInvalidInterval    = errors.New("config: interval must be positive")
	ErrInvalidSize        = errors.New("config: size must be positive")
	ErrReadConfig         = errors.New("config: unreadable config file")
)

// Config is the process configuration.
type Config struct {
	DatabaseURL   string
	NATSURL       string // empty disables the NATS ingest and outbound streams
	MigrationsDir string

	GRPCPort    int
	HTTPPort    int
	MetricsPort int

	SnapshotInterval   int64 // events between periodic snapshots
	PersistBatchSize   int
	PersistFlush       time.Duration
	PersistChanSize    int
	ProjectionChanSize int
	LRUCapacity        int
	MaxInFlight        int
	RecentLiquidations int

	ProtocolAdmin   uuid.UUID // when set, the protocol is initialized on first start
	PoolAuthority   uuid.UUID
	PoolAsset       ledger.AssetID
	PoolAssetName   string
	OracleStaleness uint64

	SlotDuration time.Duration // length of one engine clock slot

	LogLevel string
}

// GRPCAddr is the gRPC listen address.
func (c Config) GRPCAddr() string { return fmt.Sprintf(":%d", c.GRPCPort) }

// HTTPAddr is the REST listen address.
func (c Config) HTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

// MetricsAddr is the Prometheus listen address.
func (c Config) MetricsAddr() string { return fmt.Sprintf(":%d", c.MetricsPort) }

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("migrations.dir", "migrations")
	v.SetDefault("grpc.port", 9090)
	v.SetDefault("http.port", 8080)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("snapshot.interval", 100_000)
	v.SetDefault("persist.batch_size", 50)
	v.SetDefault("persist.flush_interval", "10ms")
	v.SetDefault("persist.chan_size", 1024)
	v.SetDefault("projection.chan_size", 2048)
	v.SetDefault("idempotency.lru_capacity", 1_000_000)
	v.SetDefault("ingest.max_in_flight", 64)
	v.SetDefault("liquidations.recent", 256)
	v.SetDefault("protocol.admin", "")
	v.SetDefault("pool.authority", "")
	v.SetDefault("pool.asset", "USDC")
	v.SetDefault("oracle.staleness_slots", 100)
	v.SetDefault("clock.slot_duration", "400ms")
	v.SetDefault("log.level", "info")
}

// Load reads an optional config file (path, or .env in the working
// directory when path is empty) and then XLEV_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = ".env"
		v.SetConfigType("env")
	}
	v.SetConfigFile(path)
	if err := readConfig(v); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrReadConfig, path, err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	return fromViper(v)
}

// readConfig loads the config file. A missing file is fine; the
// environment still applies.
func readConfig(v *viper.Viper) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		DatabaseURL:        v.GetString("database.url"),
		NATSURL:            v.GetString("nats.url"),
		MigrationsDir:      v.GetString("migrations.dir"),
		GRPCPort:           v.GetInt("grpc.port"),
		HTTPPort:           v.GetInt("http.port"),
		MetricsPort:        v.GetInt("metrics.port"),
		SnapshotInterval:   v.GetInt64("snapshot.interval"),
		PersistBatchSize:   v.GetInt("persist.batch_size"),
		PersistFlush:       v.GetDuration("persist.flush_interval"),
		PersistChanSize:    v.GetInt("persist.chan_size"),
		ProjectionChanSize: v.GetInt("projection.chan_size"),
		LRUCapacity:        v.GetInt("idempotency.lru_capacity"),
		MaxInFlight:        v.GetInt("ingest.max_in_flight"),
		RecentLiquidations: v.GetInt("liquidations.recent"),
		PoolAssetName:      strings.ToUpper(v.GetString("pool.asset")),
		OracleStaleness:    v.GetUint64("oracle.staleness_slots"),
		SlotDuration:       v.GetDuration("clock.slot_duration"),
		LogLevel:           v.GetString("log.level"),
	}

	var err error
	if cfg.ProtocolAdmin, err = optionalUUID("protocol.admin", v.GetString("protocol.admin")); err != nil {
		return Config{}, err
	}
	if cfg.PoolAuthority, err = optionalUUID("pool.authority", v.GetString("pool.authority")); err != nil {
		return Config{}, err
	}
	if cfg.PoolAuthority == uuid.Nil {
		cfg.PoolAuthority = cfg.ProtocolAdmin
	}

	asset, ok := ledger.GetAssetID(cfg.PoolAssetName)
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownPoolAsset, cfg.PoolAssetName)
	}
	cfg.PoolAsset = asset

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values Load cannot default.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	for name, port := range map[string]int{"grpc.port": c.GRPCPort, "http.port": c.HTTPPort, "metrics.port": c.MetricsPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidPort, name, port)
		}
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("%w: snapshot.interval=%d", ErrInvalidInterval, c.SnapshotInterval)
	}
	if c.PersistFlush <= 0 {
		return fmt.Errorf("%w: persist.flush_interval=%s", ErrInvalidInterval, c.PersistFlush)
	}
	if c.SlotDuration <= 0 {
		return fmt.Errorf("%w: clock.slot_duration=%s", ErrInvalidInterval, c.SlotDuration)
	}
	if c.OracleStaleness == 0 {
		return fmt.Errorf("%w: oracle.staleness_slots=0", ErrInvalidInterval)
	}
	sizes := []struct {
		name string
		n    int
	}{
		{"persist.batch_size", c.PersistBatchSize},
		{"persist.chan_size", c.PersistChanSize},
		{"projection.chan_size", c.ProjectionChanSize},
		{"idempotency.lru_capacity", c.LRUCapacity},
		{"ingest.max_in_flight", c.MaxInFlight},
		{"liquidations.recent", c.RecentLiquidations},
	}
	for _, s := range sizes {
		if s.n <= 0 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidSize, s.name, s.n)
		}
	}
	return nil
}

func optionalUUID(key, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s=%q", ErrInvalidUUID, key, s)
	}
	return id, nil
}
