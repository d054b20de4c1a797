// Package config loads a deployment file and wires its member graphs into
// a federated store.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override the file.
// FEDGRAPH_FEDERATION_FAILURE_POLICY=skip sets federation.failure_policy.
const EnvPrefix = "FEDGRAPH"

// Config is a deployment: the member graphs and how calls across them
// behave.
type Config struct {
	Members    []MemberConfig   `mapstructure:"members" validate:"required,min=1,unique=ID,dive"`
	Federation FederationConfig `mapstructure:"federation"`
	Scan       ScanConfig       `mapstructure:"scan"`
}

// MemberConfig describes one member graph.
type MemberConfig struct {
	ID      string `mapstructure:"id" validate:"required"`
	Backend string `mapstructure:"backend" validate:"required,oneof=sqlite badger"`
	// Path is the SQLite file or Badger directory, relative to the
	// deployment file.
	Path     string `mapstructure:"path" validate:"required_unless=InMemory true"`
	InMemory bool   `mapstructure:"in_memory"`
	// SchemaDir holds the member's CUE schema package.
	SchemaDir string `mapstructure:"schema_dir" validate:"required"`
	// Authorizations are granted to every caller on this member.
	Authorizations []string `mapstructure:"authorizations"`
	// ViewFile is a JSON or YAML view merged into every operation sent to
	// this member.
	ViewFile string `mapstructure:"view_file"`
}

// FederationConfig maps onto federation.Coordinator options.
type FederationConfig struct {
	FailurePolicy string        `mapstructure:"failure_policy" validate:"oneof=skip fail-fast"`
	Concurrency   string        `mapstructure:"concurrency" validate:"oneof=sequential bounded-parallel"`
	Parallelism   int           `mapstructure:"parallelism" validate:"gte=0"`
	MemberTimeout time.Duration `mapstructure:"member_timeout" validate:"gte=0"`
	Ordering      string        `mapstructure:"ordering" validate:"oneof=concatenate round-robin"`
	// RateLimit caps member dispatches per second. Zero is unlimited.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst int     `mapstructure:"rate_burst" validate:"gte=0"`
}

// ScanConfig maps onto graph options shared by every member.
type ScanConfig struct {
	BatchSize    int  `mapstructure:"batch_size" validate:"gte=1"`
	StrictDecode bool `mapstructure:"strict_decode"`
	RollUp       bool `mapstructure:"roll_up"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("federation.failure_policy", "fail-fast")
	v.SetDefault("federation.concurrency", "sequential")
	v.SetDefault("federation.parallelism", 4)
	v.SetDefault("federation.member_timeout", time.Duration(0))
	v.SetDefault("federation.ordering", "concatenate")
	v.SetDefault("federation.rate_limit", 0.0)
	v.SetDefault("federation.rate_burst", 1)
	v.SetDefault("scan.batch_size", 100)
	v.SetDefault("scan.strict_decode", false)
	v.SetDefault("scan.roll_up", false)
}

// Load reads the deployment file at path, applies FEDGRAPH_ environment
// overrides and validates the result. Relative member paths are resolved
// against the file's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	slog.Debug("config loaded", "path", path, "members", len(cfg.Members), "failure_policy", cfg.Federation.FailurePolicy)
	return &cfg, nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range c.Members {
		m := &c.Members[i]
		if !m.InMemory {
			m.Path = abs(m.Path)
		}
		m.SchemaDir = abs(m.SchemaDir)
		m.ViewFile = abs(m.ViewFile)
	}
}

// Validate checks struct constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	for _, m := range c.Members {
		if m.Backend == "sqlite" && m.InMemory {
			return fmt.Errorf("member %s: in_memory is only supported by the badger backend", m.ID)
		}
	}
	if c.Federation.Concurrency == "bounded-parallel" && c.Federation.Parallelism < 2 {
		return fmt.Errorf("federation: bounded-parallel needs parallelism of at least 2, got %d", c.Federation.Parallelism)
	}
	return nil
}
