package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved daemon configuration: defaults, merged with the
// first readable yaml candidate, then env overrides on top.
type Config struct {
	DataDir   string
	Backend   Backend
	Cache     Cache
	Reconcile Reconcile
	ToastTTL  time.Duration
}

type Backend struct {
	URL         string
	AnonKey     string
	RealtimeURL string
}

type Cache struct {
	StaticPartition  string
	DynamicPartition string
	ShellURL         string
	Precache         []string
}

type Reconcile struct {
	BackoffStep   time.Duration
	SignInRetries int
	ManualRetries int
}

type fileConfig struct {
	DataDir string            `yaml:"dataDir"`
	Backend fileBackendConfig `yaml:"backend"`
	Cache   fileCacheConfig   `yaml:"cache"`
	Profile fileProfileConfig `yaml:"profile"`
	Toast   fileToastConfig   `yaml:"toast"`
}

type fileBackendConfig struct {
	URL         string `yaml:"url"`
	AnonKey     string `yaml:"anonKey"`
	RealtimeURL string `yaml:"realtimeURL"`
}

type fileCacheConfig struct {
	StaticPartition  string   `yaml:"staticPartition"`
	DynamicPartition string   `yaml:"dynamicPartition"`
	ShellURL         string   `yaml:"shellURL"`
	Precache         []string `yaml:"precache"`
}

type fileProfileConfig struct {
	BackoffStep   duration `yaml:"backoffStep"`
	SignInRetries int      `yaml:"signInRetries"`
	ManualRetries int      `yaml:"manualRetries"`
}

type fileToastConfig struct {
	TTL duration `yaml:"ttl"`
}

// duration accepts Go duration strings ("500ms", "2s") in yaml scalars.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func Default() Config {
	return Config{
		Cache: Cache{
			StaticPartition:  "velgo-v1.0.3",
			DynamicPartition: "velgo-api-v1",
			ShellURL:         "/index.html",
			Precache:         []string{"/", "/index.html", "/manifest.json"},
		},
		Reconcile: Reconcile{
			BackoffStep:   500 * time.Millisecond,
			SignInRetries: 3,
			ManualRetries: 5,
		},
		ToastTTL: 4 * time.Second,
	}
}

func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/config.yaml",
			"config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src fileConfig) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.Backend.URL != "" {
		dst.Backend.URL = strings.TrimRight(src.Backend.URL, "/")
	}
	if src.Backend.AnonKey != "" {
		dst.Backend.AnonKey = src.Backend.AnonKey
	}
	if src.Backend.RealtimeURL != "" {
		dst.Backend.RealtimeURL = src.Backend.RealtimeURL
	}
	if src.Cache.StaticPartition != "" {
		dst.Cache.StaticPartition = src.Cache.StaticPartition
	}
	if src.Cache.DynamicPartition != "" {
		dst.Cache.DynamicPartition = src.Cache.DynamicPartition
	}
	if src.Cache.ShellURL != "" {
		dst.Cache.ShellURL = src.Cache.ShellURL
	}
	if src.Cache.Precache != nil {
		dst.Cache.Precache = src.Cache.Precache
	}
	if src.Profile.BackoffStep != 0 {
		dst.Reconcile.BackoffStep = time.Duration(src.Profile.BackoffStep)
	}
	if src.Profile.SignInRetries != 0 {
		dst.Reconcile.SignInRetries = src.Profile.SignInRetries
	}
	if src.Profile.ManualRetries != 0 {
		dst.Reconcile.ManualRetries = src.Profile.ManualRetries
	}
	if src.Toast.TTL != 0 {
		dst.ToastTTL = time.Duration(src.Toast.TTL)
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("VELGO_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("VELGO_BACKEND_URL")); v != "" {
		cfg.Backend.URL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("VELGO_ANON_KEY")); v != "" {
		cfg.Backend.AnonKey = v
	}
	if v := strings.TrimSpace(os.Getenv("VELGO_REALTIME_URL")); v != "" {
		cfg.Backend.RealtimeURL = v
	}
	if v := strings.TrimSpace(os.Getenv("VELGO_CACHE_STATIC_PARTITION")); v != "" {
		cfg.Cache.StaticPartition = v
	}
	if v := strings.TrimSpace(os.Getenv("VELGO_CACHE_DYNAMIC_PARTITION")); v != "" {
		cfg.Cache.DynamicPartition = v
	}
}
