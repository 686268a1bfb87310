package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Slach/clickhouse-logcontext/pkg/types"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Context is a ClickHouse connection
type Context struct {
	Name      string `yaml:"name"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Protocol  string `yaml:"protocol"` // http or native
	Secure    bool   `yaml:"secure"`
	TLSVerify bool   `yaml:"tls_verify"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
	TLSCa     string `yaml:"tls_ca"`
}

// Source describes a log table and how its columns map onto log rows
type Source struct {
	Name         string        `yaml:"name"`
	Database     string        `yaml:"database"`
	Table        string        `yaml:"table"`
	TimeField    string        `yaml:"time_field"`
	IDField      string        `yaml:"id_field"`
	MessageField string        `yaml:"message_field"`
	StreamFields []string      `yaml:"stream_fields"`
	SortOrder    string        `yaml:"sort_order"` // asc or desc
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

type Config struct {
	Contexts []Context `yaml:"contexts"`
	Sources  []Source  `yaml:"sources"`
}

const (
	defaultNativePort   = 9000
	defaultHTTPPort     = 8123
	defaultQueryTimeout = 30 * time.Second
)

// DefaultPath is used when --config is not given
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(home, types.HomeDirName, types.AppName+".yml"), nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Parse decodes a YAML config, fills defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "can't parse yaml")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Contexts {
		ctx := &c.Contexts[i]
		if ctx.Protocol == "" {
			ctx.Protocol = "native"
		}
		if ctx.Port == 0 {
			ctx.Port = defaultNativePort
			if ctx.Protocol == "http" {
				ctx.Port = defaultHTTPPort
			}
		}
	}
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.SortOrder == "" {
			src.SortOrder = "desc"
		}
		if src.QueryTimeout == 0 {
			src.QueryTimeout = defaultQueryTimeout
		}
	}
}

func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, ctx := range c.Contexts {
		if ctx.Name == "" || ctx.Host == "" {
			return errors.New("every context needs a name and a host")
		}
		if seen["context/"+ctx.Name] {
			return errors.Errorf("duplicate context %q", ctx.Name)
		}
		seen["context/"+ctx.Name] = true
		if ctx.Protocol != "native" && ctx.Protocol != "http" {
			return errors.Errorf("context %q: unknown protocol %q", ctx.Name, ctx.Protocol)
		}
	}
	for _, src := range c.Sources {
		var missing []string
		for field, value := range map[string]string{
			"name": src.Name, "database": src.Database, "table": src.Table,
			"time_field": src.TimeField, "message_field": src.MessageField,
		} {
			if value == "" {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return errors.Errorf("source %q misses %s", src.Name, strings.Join(missing, ", "))
		}
		if seen["source/"+src.Name] {
			return errors.Errorf("duplicate source %q", src.Name)
		}
		seen["source/"+src.Name] = true
		if src.SortOrder != "asc" && src.SortOrder != "desc" {
			return errors.Errorf("source %q: sort_order must be asc or desc", src.Name)
		}
	}
	return nil
}

// Context returns the named connection, or the only one when name is empty
func (c *Config) Context(name string) (Context, error) {
	if name == "" && len(c.Contexts) == 1 {
		return c.Contexts[0], nil
	}
	for _, ctx := range c.Contexts {
		if ctx.Name == name {
			return ctx, nil
		}
	}
	return Context{}, errors.Errorf("context %q not found in config", name)
}

// Source returns the named log source, or the only one when name is empty
func (c *Config) Source(name string) (Source, error) {
	if name == "" && len(c.Sources) == 1 {
		return c.Sources[0], nil
	}
	for _, src := range c.Sources {
		if src.Name == name {
			return src, nil
		}
	}
	return Source{}, errors.Errorf("source %q not found in config", name)
}
