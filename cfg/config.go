package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// DatastoreBackend selects how the record tables are reached
type DatastoreBackend string

const (
	BackendREST   DatastoreBackend = "rest"   // REST-style single-table API
	BackendSQLite DatastoreBackend = "sqlite" // Local SQLite database
	BackendMemory DatastoreBackend = "memory" // In-process store (tests, ephemeral runs)
)

// DatastoreConfiguration controls the datastore collaborator
type DatastoreConfiguration struct {
	Backend    DatastoreBackend `toml:"backend"`
	BaseURL    string           `toml:"base_url"`   // REST backend
	SQLitePath string           `toml:"sqlite_path"`
	TimeoutMS  int              `toml:"timeout_ms"` // Per-call timeout when caller sets no deadline
}

// CacheConfiguration controls post-commit cache invalidation
type CacheConfiguration struct {
	Enabled        bool   `toml:"enabled"`
	DependencyFile string `toml:"dependency_file"` // TOML table -> glob patterns, empty = built-in map
}

// RulesConfiguration controls validation rule loading
type RulesConfiguration struct {
	File string `toml:"file"` // TOML rules file overlaid on built-in defaults, empty = defaults only
}

// CoordinatorConfiguration controls transaction coordinator behavior
type CoordinatorConfiguration struct {
	ValidateBeforeCommit bool `toml:"validate_before_commit"` // Default when callers don't specify
	RecentResults        int  `toml:"recent_results"`         // Size of the in-memory result ring
	ProbeCacheSize       int  `toml:"probe_cache_size"`       // LRU size for existence/FK probe caching
	ProbeCacheTTLMS      int  `toml:"probe_cache_ttl_ms"`
}

// EventsConfiguration controls post-commit event publishing
type EventsConfiguration struct {
	Enabled       bool     `toml:"enabled"`
	Sink          string   `toml:"sink"` // "log" or "nats"
	NatsURL       string   `toml:"nats_url"`
	SubjectPrefix string   `toml:"subject_prefix"`
	TablePatterns []string `toml:"table_patterns"` // Glob patterns, empty = all tables
}

// AdminConfiguration for the operational HTTP surface
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	ProcessID uint64 `toml:"process_id"`

	Datastore   DatastoreConfiguration   `toml:"datastore"`
	Cache       CacheConfiguration       `toml:"cache"`
	Rules       RulesConfiguration       `toml:"rules"`
	Coordinator CoordinatorConfiguration `toml:"coordinator"`
	Events      EventsConfiguration      `toml:"events"`
	Admin       AdminConfiguration       `toml:"admin"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag   = flag.String("config", "config.toml", "Path to configuration file")
	DatastoreURLFlag = flag.String("datastore-url", "", "Datastore base URL (overrides config)")
	AdminPortFlag    = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	ProcessID: 0, // Auto-generate

	Datastore: DatastoreConfiguration{
		Backend:    BackendREST,
		BaseURL:    "http://localhost:8090",
		SQLitePath: "./tally.db",
		TimeoutMS:  5000,
	},

	Cache: CacheConfiguration{
		Enabled: true,
	},

	Coordinator: CoordinatorConfiguration{
		ValidateBeforeCommit: true,
		RecentResults:        256,
		ProbeCacheSize:       1024,
		ProbeCacheTTLMS:      2000,
	},

	Events: EventsConfiguration{
		Enabled:       false,
		Sink:          "log",
		SubjectPrefix: "tally.writes",
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8091,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DatastoreURLFlag != "" {
		Config.Datastore.BaseURL = *DatastoreURLFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate process ID if not set
	if Config.ProcessID == 0 {
		var err error
		Config.ProcessID, err = generateProcessID()
		if err != nil {
			return fmt.Errorf("failed to generate process ID: %w", err)
		}
		log.Info().Uint64("process_id", Config.ProcessID).Msg("Auto-generated process ID")
	}

	return nil
}

// generateProcessID creates a stable ID based on machine ID
func generateProcessID() (uint64, error) {
	id, err := machineid.ProtectedID("tally")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Datastore.Backend {
	case BackendREST:
		if Config.Datastore.BaseURL == "" {
			return fmt.Errorf("rest backend requires datastore.base_url")
		}
	case BackendSQLite:
		if Config.Datastore.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires datastore.sqlite_path")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid datastore backend: %s", Config.Datastore.Backend)
	}

	if Config.Datastore.TimeoutMS < 1 {
		return fmt.Errorf("datastore timeout must be >= 1ms")
	}

	if Config.Coordinator.RecentResults < 1 {
		return fmt.Errorf("coordinator recent_results must be >= 1")
	}

	if Config.Coordinator.ProbeCacheSize < 1 {
		return fmt.Errorf("coordinator probe_cache_size must be >= 1")
	}

	if Config.Coordinator.ProbeCacheTTLMS < 0 {
		return fmt.Errorf("coordinator probe_cache_ttl_ms must be >= 0")
	}

	if Config.Events.Enabled {
		switch Config.Events.Sink {
		case "log":
		case "nats":
			if Config.Events.NatsURL == "" {
				return fmt.Errorf("nats sink requires events.nats_url")
			}
		default:
			return fmt.Errorf("invalid events sink: %s", Config.Events.Sink)
		}
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}
