package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment variables read by Load.
const EnvPrefix = "COURSEBOT"

// Metadata records where the effective configuration came from.
type Metadata struct {
	ConfigFile string // empty when no YAML file was found
	DotEnvFile string // empty when no .env file was read
}

type loadOptions struct {
	configFile  string
	searchPaths []string
	dotEnvFile  string
	dotEnvSet   bool
	overrides   map[string]any
}

// Option customizes Load.
type Option func(*loadOptions)

// WithConfigFile reads the given YAML file instead of searching for
// coursebot.yaml. A missing explicit file is an error.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) {
		o.configFile = strings.TrimSpace(path)
	}
}

// WithSearchPaths replaces the directories searched for coursebot.yaml.
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) {
		o.searchPaths = append([]string(nil), paths...)
	}
}

// WithDotEnvFile reads environment assignments from path. An empty path
// disables .env loading.
func WithDotEnvFile(path string) Option {
	return func(o *loadOptions) {
		o.dotEnvFile = strings.TrimSpace(path)
		o.dotEnvSet = true
	}
}

// WithOverrides applies values on top of every other source. Keys use the
// dotted form, for example "queue.concurrency".
func WithOverrides(overrides map[string]any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = map[string]any{}
		}
		for k, v := range overrides {
			o.overrides[k] = v
		}
	}
}

// Load resolves the configuration. Precedence from lowest to highest:
// defaults, YAML file, .env file, environment, overrides.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{searchPaths: defaultSearchPaths()}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	meta := Metadata{}
	if err := readConfigFile(v, options, &meta); err != nil {
		return Config{}, Metadata{}, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	aliases := DefaultEnvAliases()
	for key, names := range aliases {
		bound := append([]string{envName(key)}, names...)
		if err := v.BindEnv(append([]string{key}, bound...)...); err != nil {
			return Config{}, Metadata{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := applyDotEnv(v, options, aliases, &meta); err != nil {
		return Config{}, Metadata{}, err
	}

	for key, value := range options.overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	return cfg, meta, nil
}

func defaultSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".coursebot"))
	}
	return paths
}

func readConfigFile(v *viper.Viper, options loadOptions, meta *Metadata) error {
	if options.configFile != "" {
		v.SetConfigFile(options.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", options.configFile, err)
		}
		meta.ConfigFile = options.configFile
		return nil
	}

	v.SetConfigName("coursebot")
	v.SetConfigType("yaml")
	for _, path := range options.searchPaths {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	meta.ConfigFile = v.ConfigFileUsed()
	return nil
}

// applyDotEnv copies .env assignments into v for keys whose variables are not
// already present in the process environment.
func applyDotEnv(v *viper.Viper, options loadOptions, aliases map[string][]string, meta *Metadata) error {
	path := ".env"
	if options.dotEnvSet {
		path = options.dotEnvFile
	}
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !options.dotEnvSet {
			return nil
		}
		return fmt.Errorf("read env file %s: %w", path, err)
	}

	dotenv := viper.New()
	dotenv.SetConfigFile(path)
	dotenv.SetConfigType("env")
	if err := dotenv.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	meta.DotEnvFile = path

	for key := range defaults() {
		names := append([]string{envName(key)}, aliases[key]...)
		if anyEnvSet(names) {
			continue
		}
		for _, name := range names {
			// viper lowercases keys of env files.
			lower := strings.ToLower(name)
			if dotenv.IsSet(lower) {
				v.Set(key, dotenv.GetString(lower))
				break
			}
		}
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func anyEnvSet(names []string) bool {
	for _, name := range names {
		if _, ok := os.LookupEnv(name); ok {
			return true
		}
	}
	return false
}

func normalize(cfg *Config) {
	cfg.Discord.Token = strings.TrimSpace(cfg.Discord.Token)
	cfg.Discord.ClientID = strings.TrimSpace(cfg.Discord.ClientID)
	cfg.Discord.GuildID = strings.TrimSpace(cfg.Discord.GuildID)
	cfg.Discord.CommandName = strings.ToLower(strings.TrimSpace(cfg.Discord.CommandName))
	if cfg.Discord.CommandName == "" {
		cfg.Discord.CommandName = DefaultCommandName
	}

	cfg.Ollama.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Ollama.BaseURL), "/")
	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = DefaultOllamaURL
	}
	// OLLAMA_HOST is commonly given as host:port.
	if !strings.Contains(cfg.Ollama.BaseURL, "://") {
		cfg.Ollama.BaseURL = "http://" + cfg.Ollama.BaseURL
	}
	if strings.TrimSpace(cfg.Ollama.Model) == "" {
		cfg.Ollama.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.Runner.CourseName) == "" {
		cfg.Runner.CourseName = DefaultCourseName
	}

	cfg.Observability.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Observability.Logging.Level))
	cfg.Observability.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Observability.Logging.Format))
}
