// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete backroom configuration.
type Config struct {
	// Version of the config format
	Version string `toml:"version" json:"version" yaml:"version"`

	Server      ServerConfig        `toml:"server" json:"server" yaml:"server"`
	Engine      EngineConfig        `toml:"engine" json:"engine" yaml:"engine"`
	Models      []model.ModelConfig `toml:"models" json:"models" yaml:"models"`
	Storage     StorageConfig       `toml:"storage" json:"storage" yaml:"storage"`
	Credentials CredentialsConfig   `toml:"credentials" json:"credentials" yaml:"credentials"`
	Events      EventsConfig        `toml:"events" json:"events" yaml:"events"`
	Logging     LoggingConfig       `toml:"logging" json:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8787".
	Addr string `toml:"addr" json:"addr" yaml:"addr"`

	// AuthEnabled requires a bearer token on every /v1 request.
	AuthEnabled bool `toml:"auth_enabled" json:"auth_enabled" yaml:"auth_enabled"`

	// BearerToken is a single shared token mapped to the "local" user.
	BearerToken string `toml:"bearer_token,omitempty" json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`

	// Tokens maps bearer tokens to user ids.
	Tokens map[string]string `toml:"tokens,omitempty" json:"tokens,omitempty" yaml:"tokens,omitempty"`

	// RatePerSec is the per-client request rate; 0 disables limiting.
	RatePerSec   float64  `toml:"rate_per_sec" json:"rate_per_sec" yaml:"rate_per_sec"`
	RateBurst    int      `toml:"rate_burst" json:"rate_burst" yaml:"rate_burst"`
	CORSOrigins  []string `toml:"cors_origins,omitempty" json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
	MaxBodyBytes int64    `toml:"max_body_bytes" json:"max_body_bytes" yaml:"max_body_bytes"`
}

// Busy policies for a session that already has a turn in flight.
const (
	BusyReject = "reject"
	BusyQueue  = "queue"
)

// EngineConfig controls turn orchestration.
type EngineConfig struct {
	// Roster lists model ids taking turns in the multi-model variant.
	Roster []string `toml:"roster" json:"roster" yaml:"roster"`

	// SystemMessage seeds every new conversation. Empty disables seeding.
	SystemMessage string `toml:"system_message" json:"system_message" yaml:"system_message"`

	// TurnTimeout bounds each adapter call.
	TurnTimeout Duration `toml:"turn_timeout" json:"turn_timeout" yaml:"turn_timeout"`

	// MaxTurnsPerRequest caps turn_count.
	MaxTurnsPerRequest int `toml:"max_turns_per_request" json:"max_turns_per_request" yaml:"max_turns_per_request"`

	// BusyPolicy is "reject" or "queue".
	BusyPolicy string `toml:"busy_policy" json:"busy_policy" yaml:"busy_policy"`
}

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// StorageConfig selects where conversations live.
type StorageConfig struct {
	Backend       string   `toml:"backend" json:"backend" yaml:"backend"`
	Dir           string   `toml:"dir,omitempty" json:"dir,omitempty" yaml:"dir,omitempty"`
	MaxSessions   int      `toml:"max_sessions,omitempty" json:"max_sessions,omitempty" yaml:"max_sessions,omitempty"`
	SQLitePath    string   `toml:"sqlite_path,omitempty" json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	RedisAddr     string   `toml:"redis_addr,omitempty" json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string   `toml:"redis_password,omitempty" json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int      `toml:"redis_db,omitempty" json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	RedisTTL      Duration `toml:"redis_ttl,omitempty" json:"redis_ttl,omitempty" yaml:"redis_ttl,omitempty"`
}

// Credential backends.
const (
	CredentialsSQLite = "sqlite"
	CredentialsMySQL  = "mysql"
	CredentialsEnv    = "env"
	CredentialsMemory = "memory"
)

// CredentialsConfig selects where per-user API keys live.
type CredentialsConfig struct {
	Backend    string `toml:"backend" json:"backend" yaml:"backend"`
	SQLitePath string `toml:"sqlite_path,omitempty" json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	MySQLDSN   string `toml:"mysql_dsn,omitempty" json:"mysql_dsn,omitempty" yaml:"mysql_dsn,omitempty"`

	// Passphrase enables at-rest sealing of stored keys.
	Passphrase string `toml:"passphrase,omitempty" json:"passphrase,omitempty" yaml:"passphrase,omitempty"`

	// EnvFallback consults each model's api_key_env when the store has no key.
	EnvFallback bool `toml:"env_fallback" json:"env_fallback" yaml:"env_fallback"`
}

// EventsConfig configures turn event publishing.
type EventsConfig struct {
	AMQPURL   string `toml:"amqp_url,omitempty" json:"amqp_url,omitempty" yaml:"amqp_url,omitempty"`
	AMQPQueue string `toml:"amqp_queue,omitempty" json:"amqp_queue,omitempty" yaml:"amqp_queue,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// File tees log output to this path.
	File string `toml:"file,omitempty" json:"file,omitempty" yaml:"file,omitempty"`

	// Quiet suppresses stderr output; File still receives logs.
	Quiet bool `toml:"quiet" json:"quiet" yaml:"quiet"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration that reads and writes as "60s" in every format.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Addr:         "127.0.0.1:8787",
			RatePerSec:   5,
			RateBurst:    10,
			MaxBodyBytes: 1 << 20,
		},
		Engine: EngineConfig{
			Roster:             model.DefaultRoster(),
			SystemMessage:      model.DefaultSystemMessage,
			TurnTimeout:        Duration{60 * time.Second},
			MaxTurnsPerRequest: 10,
			BusyPolicy:         BusyReject,
		},
		Models: model.DefaultModels(),
		Storage: StorageConfig{
			Backend: StorageFile,
		},
		Credentials: CredentialsConfig{
			Backend:     CredentialsSQLite,
			EnvFallback: true,
		},
		Events: EventsConfig{
			AMQPQueue: "backroom.turns",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the backroom configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".backroom"), nil
}

// configFiles lists the config file names tried by Load, in order.
var configFiles = []string{"config.toml", "config.yaml", "config.json"}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// FindConfigFile returns the first existing config file, or "" if none exists.
func FindConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	for _, name := range configFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// ensureSecurePermissions tightens config files that may hold tokens and DSNs.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the first config file found in ~/.backroom/ (toml, yaml, json),
// falling back to defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := FindConfigFile()
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file. The format follows
// the extension; anything other than .json, .yaml or .yml is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decodeFile parses path into a config with defaults filled, without env overrides.
func decodeFile(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	fillDefaults(cfg)
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Server
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	if cfg.Server.RatePerSec == 0 {
		cfg.Server.RatePerSec = defaults.Server.RatePerSec
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = defaults.Server.RateBurst
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}

	// Engine. An explicitly empty system_message is kept.
	if len(cfg.Engine.Roster) == 0 {
		cfg.Engine.Roster = defaults.Engine.Roster
	}
	if cfg.Engine.TurnTimeout.Duration == 0 {
		cfg.Engine.TurnTimeout = defaults.Engine.TurnTimeout
	}
	if cfg.Engine.MaxTurnsPerRequest == 0 {
		cfg.Engine.MaxTurnsPerRequest = defaults.Engine.MaxTurnsPerRequest
	}
	if cfg.Engine.BusyPolicy == "" {
		cfg.Engine.BusyPolicy = defaults.Engine.BusyPolicy
	}

	// Models
	if len(cfg.Models) == 0 {
		cfg.Models = defaults.Models
	}
	for i := range cfg.Models {
		if cfg.Models[i].DefaultMaxTokens == 0 {
			cfg.Models[i].DefaultMaxTokens = model.DefaultMaxTokens
		}
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Credentials.Backend == "" {
		cfg.Credentials.Backend = defaults.Credentials.Backend
	}
	if cfg.Events.AMQPQueue == "" {
		cfg.Events.AMQPQueue = defaults.Events.AMQPQueue
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# backroom configuration file\n")
	b.WriteString("# Generated by backroom - edit with care\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, []byte(b.String()))
}

// SaveYAML writes the configuration as YAML with 0600 permissions.
func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, data)
}

// SaveJSON writes the configuration as JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, data)
}

func writeConfig(path string, data []byte) error {
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns ValidateErrors if anything is wrong.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Addr == "" {
		add("server.addr", "is required")
	}
	if c.Server.RatePerSec < 0 {
		add("server.rate_per_sec", "must be non-negative")
	}
	if c.Server.RateBurst < 0 {
		add("server.rate_burst", "must be non-negative")
	}
	if c.Server.MaxBodyBytes < 0 {
		add("server.max_body_bytes", "must be non-negative")
	}
	if c.Server.AuthEnabled && c.Server.BearerToken == "" && len(c.Server.Tokens) == 0 {
		add("server.auth_enabled", "requires bearer_token or tokens")
	}

	// Models
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		field := fmt.Sprintf("models[%d]", i)
		if err := m.Validate(); err != nil {
			add(field, "%v", err)
			continue
		}
		if m.ProviderFamily != model.FamilyOpenAI && m.ProviderFamily != model.FamilyAnthropic {
			add(field+".provider_family", "unknown family %q (valid: %s, %s)", m.ProviderFamily, model.FamilyOpenAI, model.FamilyAnthropic)
		}
		if seen[m.ModelID] {
			add(field+".model_id", "duplicate model %q", m.ModelID)
		}
		seen[m.ModelID] = true
	}

	// Engine
	if len(c.Engine.Roster) == 0 {
		add("engine.roster", "must name at least one model")
	}
	for _, id := range c.Engine.Roster {
		if !seen[id] {
			add("engine.roster", "unknown model %q", id)
		}
	}
	if c.Engine.TurnTimeout.Duration <= 0 {
		add("engine.turn_timeout", "must be positive")
	}
	if c.Engine.MaxTurnsPerRequest < 1 {
		add("engine.max_turns_per_request", "must be at least 1")
	}
	if c.Engine.BusyPolicy != BusyReject && c.Engine.BusyPolicy != BusyQueue {
		add("engine.busy_policy", "invalid value %q (valid: %s, %s)", c.Engine.BusyPolicy, BusyReject, BusyQueue)
	}

	// Storage
	switch c.Storage.Backend {
	case StorageFile, StorageSQLite, StorageMemory:
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			add("storage.redis_addr", "is required for the redis backend")
		}
	default:
		add("storage.backend", "invalid value %q (valid: file, sqlite, redis, memory)", c.Storage.Backend)
	}
	if c.Storage.MaxSessions < 0 {
		add("storage.max_sessions", "must be non-negative")
	}

	// Credentials
	switch c.Credentials.Backend {
	case CredentialsSQLite, CredentialsEnv, CredentialsMemory:
	case CredentialsMySQL:
		if c.Credentials.MySQLDSN == "" {
			add("credentials.mysql_dsn", "is required for the mysql backend")
		}
	default:
		add("credentials.backend", "invalid value %q (valid: sqlite, mysql, env, memory)", c.Credentials.Backend)
	}

	// Events
	if c.Events.AMQPURL != "" && !strings.HasPrefix(c.Events.AMQPURL, "amqp://") && !strings.HasPrefix(c.Events.AMQPURL, "amqps://") {
		add("events.amqp_url", "must use amqp:// or amqps://")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - BACKROOM_ADDR: server.addr
//   - BACKROOM_ROSTER: engine.roster (comma separated)
//   - BACKROOM_SYSTEM_MESSAGE: engine.system_message
//   - BACKROOM_TURN_TIMEOUT: engine.turn_timeout (e.g. "90s")
//   - BACKROOM_STORAGE: storage.backend
//   - BACKROOM_REDIS_ADDR: storage.redis_addr
//   - BACKROOM_CREDENTIALS: credentials.backend
//   - BACKROOM_MYSQL_DSN: credentials.mysql_dsn
//   - BACKROOM_CREDENTIAL_PASSPHRASE: credentials.passphrase
//   - BACKROOM_AMQP_URL: events.amqp_url
//   - BACKROOM_BEARER_TOKEN: server.bearer_token, and enables auth
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("BACKROOM_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("BACKROOM_ROSTER"); v != "" {
		var roster []string
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				roster = append(roster, id)
			}
		}
		c.Engine.Roster = roster
	}
	if v, ok := os.LookupEnv("BACKROOM_SYSTEM_MESSAGE"); ok {
		c.Engine.SystemMessage = v
	}
	if v := os.Getenv("BACKROOM_TURN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Engine.TurnTimeout = Duration{d}
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring BACKROOM_TURN_TIMEOUT=%q: %v\n", v, err)
		}
	}
	if v := os.Getenv("BACKROOM_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("BACKROOM_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("BACKROOM_CREDENTIALS"); v != "" {
		c.Credentials.Backend = v
	}
	if v := os.Getenv("BACKROOM_MYSQL_DSN"); v != "" {
		c.Credentials.MySQLDSN = v
	}
	if v := os.Getenv("BACKROOM_CREDENTIAL_PASSPHRASE"); v != "" {
		c.Credentials.Passphrase = v
	}
	if v := os.Getenv("BACKROOM_AMQP_URL"); v != "" {
		c.Events.AMQPURL = v
	}
	if v := os.Getenv("BACKROOM_BEARER_TOKEN"); v != "" {
		c.Server.BearerToken = v
		c.Server.AuthEnabled = true
	}
}

// =============================================================================
// GET HELPER (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value by its TOML path (e.g. "engine.turn_timeout").
func (c *Config) Get(key string) (any, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds the struct field whose toml tag name equals name.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// =============================================================================
// CLONE / STRING
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Engine.Roster = append([]string(nil), c.Engine.Roster...)
	clone.Models = append([]model.ModelConfig(nil), c.Models...)
	clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	if c.Server.Tokens != nil {
		clone.Server.Tokens = make(map[string]string, len(c.Server.Tokens))
		for k, v := range c.Server.Tokens {
			clone.Server.Tokens[k] = v
		}
	}
	return &clone
}

// Redacted returns a copy with tokens, passwords, DSNs and passphrases masked.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	const mask = "[REDACTED]"
	if safe.Server.BearerToken != "" {
		safe.Server.BearerToken = mask
	}
	if len(safe.Server.Tokens) > 0 {
		masked := make(map[string]string, len(safe.Server.Tokens))
		i := 0
		for _, user := range safe.Server.Tokens {
			i++
			masked[fmt.Sprintf("%s-%d", mask, i)] = user
		}
		safe.Server.Tokens = masked
	}
	if safe.Storage.RedisPassword != "" {
		safe.Storage.RedisPassword = mask
	}
	if safe.Credentials.MySQLDSN != "" {
		safe.Credentials.MySQLDSN = mask
	}
	if safe.Credentials.Passphrase != "" {
		safe.Credentials.Passphrase = mask
	}
	if safe.Events.AMQPURL != "" {
		safe.Events.AMQPURL = mask
	}
	return safe
}

// String returns the redacted config as JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it on first access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
