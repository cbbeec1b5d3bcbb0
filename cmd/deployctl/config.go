package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/swecc-uw/deployctl/internal/core/deployment"
	"github.com/swecc-uw/deployctl/internal/core/policy"
	"github.com/swecc-uw/deployctl/internal/core/registry"
	"github.com/swecc-uw/deployctl/internal/shell/docker"
	"github.com/swecc-uw/deployctl/internal/shell/envbundle"
	"github.com/swecc-uw/deployctl/internal/shell/health"
	"github.com/swecc-uw/deployctl/internal/shell/orchestrator"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Log           LogConfig                 `mapstructure:"log"`
	Docker        DockerConfig              `mapstructure:"docker"`
	Network       string                    `mapstructure:"network"`
	StagingSuffix string                    `mapstructure:"staging_suffix"`
	Image         ImageConfig               `mapstructure:"image"`
	Registry      RegistryConfig            `mapstructure:"registry"`
	Env           EnvConfig                 `mapstructure:"env"`
	Health        HealthConfig              `mapstructure:"health"`
	Update        UpdateConfig              `mapstructure:"update"`
	Services      []string                  `mapstructure:"services"`
	Resources     ResourcesConfig           `mapstructure:"resources"`
	Mounts        map[string][]policy.Mount `mapstructure:"mounts"`
	Ports         map[string][]string       `mapstructure:"ports"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// ImageConfig holds the image naming scheme: <repository>/<prefix><service>:<tag>.
type ImageConfig struct {
	Repository string `mapstructure:"repository"`
	Prefix     string `mapstructure:"prefix"`
	Tag        string `mapstructure:"tag"`
}

// RegistryConfig holds image registry credentials.
// Set via DEPLOYCTL_REGISTRY_USERNAME / DEPLOYCTL_REGISTRY_TOKEN, or
// DOCKER_USERNAME / DOCKER_TOKEN.
type RegistryConfig struct {
	Server   string `mapstructure:"server"`
	Username string `mapstructure:"username"`
	Token    string `mapstructure:"token"`
}

// Auth returns the credentials in the runtime's form.
func (c RegistryConfig) Auth() docker.RegistryAuth {
	return docker.RegistryAuth{
		Username:      c.Username,
		Password:      c.Token,
		ServerAddress: c.Server,
	}
}

// EnvConfig holds environment bundle settings.
type EnvConfig struct {
	WorkDir   string `mapstructure:"work_dir"`
	KeySuffix string `mapstructure:"key_suffix"`
}

// HealthConfig holds health polling settings.
type HealthConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
}

// UpdateConfig holds the rolling-update policy of production units.
type UpdateConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

// ResourcesConfig holds resource profiles. Unset entries keep the built-in table.
type ResourcesConfig struct {
	Default   *policy.ProfileSpec           `mapstructure:"default"`
	Overrides map[string]policy.ProfileSpec `mapstructure:"overrides"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("docker.host", "")
	v.SetDefault("network", "swecc-network")
	v.SetDefault("staging_suffix", deployment.DefaultStagingSuffix)
	v.SetDefault("image.repository", "swecc")
	v.SetDefault("image.prefix", "swecc-")
	v.SetDefault("image.tag", deployment.DefaultImageTag)
	v.SetDefault("registry.server", "")
	v.SetDefault("registry.username", "")
	v.SetDefault("registry.token", "")
	v.SetDefault("env.work_dir", "")
	v.SetDefault("env.key_suffix", deployment.DefaultEnvKeySuffix)
	v.SetDefault("health.max_attempts", 30)
	v.SetDefault("health.interval", "2s")
	v.SetDefault("update.delay", "10s")
	v.SetDefault("services", registry.DefaultServices)

	// A path given explicitly must be readable; only an empty path means defaults.
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("DEPLOYCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The CI conventions for registry credentials are honoured as fallbacks.
	if err := v.BindEnv("registry.username", "DEPLOYCTL_REGISTRY_USERNAME", "DOCKER_USERNAME"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	if err := v.BindEnv("registry.token", "DEPLOYCTL_REGISTRY_TOKEN", "DOCKER_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Building Runtime Values
// =============================================================================

// Build resolves the configured registry and policy tables.
func (c *Config) Build() (orchestrator.Policy, error) {
	reg, err := registry.New(c.Services...)
	if err != nil {
		return orchestrator.Policy{}, fmt.Errorf("services: %w", err)
	}

	table := policy.DefaultTable()
	if c.Resources.Default != nil {
		p, err := policy.ParseProfile(*c.Resources.Default)
		if err != nil {
			return orchestrator.Policy{}, fmt.Errorf("resources.default: %w", err)
		}
		table.Default = p
	}
	for _, name := range sortedKeys(c.Resources.Overrides) {
		p, err := policy.ParseProfile(c.Resources.Overrides[name])
		if err != nil {
			return orchestrator.Policy{}, fmt.Errorf("resources.overrides.%s: %w", name, err)
		}
		table.Overrides[name] = p
	}
	if err := table.Validate(); err != nil {
		return orchestrator.Policy{}, fmt.Errorf("resources: %w", err)
	}

	mounts := policy.DefaultMounts()
	for name, ms := range c.Mounts {
		for _, m := range ms {
			if m.Type != policy.MountTypeBind && m.Type != policy.MountTypeVolume {
				return orchestrator.Policy{}, fmt.Errorf("mounts.%s: unknown mount type %q", name, m.Type)
			}
			if m.Source == "" || m.Target == "" {
				return orchestrator.Policy{}, fmt.Errorf("mounts.%s: source and target are required", name)
			}
		}
		mounts[name] = ms
	}

	ports := policy.PortTable{}
	for _, name := range sortedKeys(c.Ports) {
		ps, err := policy.ParsePorts(c.Ports[name])
		if err != nil {
			return orchestrator.Policy{}, fmt.Errorf("ports.%s: %w", name, err)
		}
		ports[name] = ps
	}

	for _, name := range append(sortedKeys(c.Resources.Overrides), append(sortedKeys(c.Mounts), sortedKeys(c.Ports)...)...) {
		if !reg.Contains(name) {
			return orchestrator.Policy{}, fmt.Errorf("configuration for %q: %w", name, registry.ErrUnknownService)
		}
	}

	return orchestrator.Policy{
		Registry:  reg,
		Resources: table,
		Mounts:    mounts,
		Ports:     ports,
	}, nil
}

// OrchestratorConfig returns the orchestrator settings.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Network:         c.Network,
		StagingSuffix:   c.StagingSuffix,
		ImageRepository: c.Image.Repository,
		ImagePrefix:     c.Image.Prefix,
		ImageTag:        c.Image.Tag,
		UpdateDelay:     c.Update.Delay,
		Auth:            c.Registry.Auth(),
	}
}

// MonitorConfig returns the health monitor settings.
func (c *Config) MonitorConfig() health.Config {
	return health.Config{
		MaxAttempts: c.Health.MaxAttempts,
		Interval:    c.Health.Interval,
	}
}

// ProvisionerConfig returns the environment provisioner settings.
func (c *Config) ProvisionerConfig() envbundle.Config {
	return envbundle.Config{
		WorkDir:   c.Env.WorkDir,
		KeySuffix: c.Env.KeySuffix,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
// Logs go to w so that stdout stays free for command output.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
