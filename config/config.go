package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/evergreen-library-system/opensrf-go/errors"
)

// Store is the abstraction the core consumes configuration through: a
// key→value/key→list lookup (spec.md §9), independent of whatever file
// format backs it. A hierarchical-XML-backed Store could implement this
// same interface without any other package noticing.
type Store interface {
	Get(key string) (string, bool)
	GetList(key string) ([]string, bool)
}

// yamlStore is a Store backed by a parsed YAML document, addressed by
// dotted paths ("bus.domain", "router.domains"). Every '.' in a key
// separates path segments, so a map key that itself contains a '.' (such
// as a service name like "opensrf.math") cannot be addressed.
type yamlStore struct {
	tree map[string]any
}

// NewYAMLStore parses data as YAML and returns it as a Store.
func NewYAMLStore(data []byte) (Store, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, errors.Wrapf(err, "parse yaml config")
	}
	return &yamlStore{tree: tree}, nil
}

func (s *yamlStore) lookup(key string) (any, bool) {
	parts := strings.Split(key, ".")
	var cur any = s.tree
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (s *yamlStore) Get(key string) (string, bool) {
	v, ok := s.lookup(key)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	default:
		return "", false
	}
}

func (s *yamlStore) GetList(key string) ([]string, bool) {
	v, ok := s.lookup(key)
	if !ok {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		str, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, str)
	}
	return out, true
}

// BusConfig holds the connection details for the shared message bus.
type BusConfig struct {
	Domain   string `yaml:"domain"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Compress, when true, zstd-compresses transport message bodies at or
	// above CompressThresholdBytes before enqueuing them (see
	// bus.RedisClient).
	Compress               bool `yaml:"compress"`
	CompressThresholdBytes int  `yaml:"compress_threshold_bytes"`
}

// RouterConfig holds router-specific settings.
type RouterConfig struct {
	Domains         []string `yaml:"domains"`
	PIDFile         string   `yaml:"pid_file"`
	AllowedServices []string `yaml:"allowed_services"`
	DeniedServices  []string `yaml:"denied_services"`
}

// ServiceConfig holds per-service prefork listener tunables (spec.md §4.5).
type ServiceConfig struct {
	MinChildren      int    `yaml:"min_children"`
	MaxChildren      int    `yaml:"max_children"`
	MinSpareChildren int    `yaml:"min_spare_children"`
	MaxSpareChildren int    `yaml:"max_spare_children"`
	MaxRequests      int    `yaml:"max_requests"`
	PIDFile          string `yaml:"pid_file"`
}

// TranslatorConfig holds HTTP/WebSocket translator tunables (spec.md §4.7).
type TranslatorConfig struct {
	IdleTimeoutSeconds        int      `yaml:"idle_timeout_seconds"`
	IdleCheckIntervalSeconds  int      `yaml:"idle_check_interval_seconds"`
	MaxActiveStatefulSessions int      `yaml:"max_active_stateful_sessions"`
	MaxRequestWaitSeconds     int      `yaml:"max_request_wait_seconds"`
	RedactMethods             []string `yaml:"redact_methods"`
}

// Config is the typed view of an OpenSRF deployment's settings.
type Config struct {
	Bus         BusConfig                `yaml:"bus"`
	Router      RouterConfig             `yaml:"router"`
	Services    map[string]ServiceConfig `yaml:"services"`
	Translators TranslatorConfig         `yaml:"translators"`
}

// Default returns a Config with bus and translator defaults: Redis on
// 127.0.0.1:6379, an 8 KiB compression threshold, and translator timeouts
// with a 128-session cache (MAX_ACTIVE_STATEFUL_SESSIONS, spec.md §4.7).
// It sets no per-service settings; ServiceConfigFor supplies those.
func Default() *Config {
	return &Config{
		Bus: BusConfig{Host: "127.0.0.1", Port: 6379, CompressThresholdBytes: 8192},
		Translators: TranslatorConfig{
			IdleTimeoutSeconds:        120,
			IdleCheckIntervalSeconds:  5,
			MaxActiveStatefulSessions: 128,
			MaxRequestWaitSeconds:     60,
		},
	}
}

// Load reads and merges one or more YAML files in order, later files
// overriding earlier ones field-by-field — the same "user config, then
// project config, latter wins" shape as the teacher's LoadConfig, with the
// override order left to the caller instead of being hardcoded to two
// fixed paths.
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	return cfg, nil
}

// ServiceConfigFor looks up settings for a named service, falling back to
// conservative defaults (min=1 child) if the service has no explicit entry.
func (c *Config) ServiceConfigFor(name string) ServiceConfig {
	if sc, ok := c.Services[name]; ok {
		return sc
	}
	return ServiceConfig{MinChildren: 1, MaxChildren: 8, MinSpareChildren: 1, MaxSpareChildren: 2, MaxRequests: 1000}
}
