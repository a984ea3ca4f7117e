package docjar

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/docjar/docstore"
)

// Config is the file form of Options plus the store location.
type Config struct {
	Store StoreConfig `yaml:"store"`

	Database          string `yaml:"database"`
	NameMapCollection string `yaml:"name_map_collection"`
	RootDatabase      string `yaml:"root_database"`
	RootCollection    string `yaml:"root_collection"`
	SerialField       string `yaml:"serial_field"`

	// ConflictHandler is one of "none" (default), "simple" or "resolving".
	ConflictHandler string `yaml:"conflict_handler"`
	// AbortPolicy is "unless_conflicting" (default) or "always".
	AbortPolicy string `yaml:"abort_policy"`

	TypeCacheSize int    `yaml:"type_cache_size"`
	LogLevel      string `yaml:"log_level"`
}

type StoreConfig struct {
	// Path of the Bolt file; empty means an in-memory store.
	Path     string `yaml:"path"`
	MmapSize int    `yaml:"mmap_size"`
	NoSync   bool   `yaml:"no_sync"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.conflictHandler(); err != nil {
		return err
	}
	if _, err := c.abortPolicy(); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
	}
	if c.TypeCacheSize < 0 {
		return fmt.Errorf("invalid type_cache_size %d", c.TypeCacheSize)
	}
	return nil
}

func (c *Config) conflictHandler() (func(dm *DataManager) ConflictHandler, error) {
	switch c.ConflictHandler {
	case "", "none":
		return NewNoCheckConflictHandler, nil
	case "simple":
		return NewSimpleSerialConflictHandler, nil
	case "resolving":
		return NewResolvingSerialConflictHandler, nil
	default:
		return nil, fmt.Errorf("invalid conflict_handler %q", c.ConflictHandler)
	}
}

func (c *Config) abortPolicy() (AbortPolicy, error) {
	switch c.AbortPolicy {
	case "", "unless_conflicting":
		return AbortRestoreUnlessConflicting, nil
	case "always":
		return AbortRestoreAlways, nil
	default:
		return 0, fmt.Errorf("invalid abort_policy %q", c.AbortPolicy)
	}
}

// Logger returns a logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// Options builds data manager options. It also applies TypeCacheSize, which
// is process-wide.
func (c *Config) Options(logger logrus.FieldLogger) Options {
	ch, _ := c.conflictHandler()
	ap, _ := c.abortPolicy()
	if c.TypeCacheSize > 0 {
		ResizeTypeCache(c.TypeCacheSize)
	}
	return Options{
		DefaultDatabase:   c.Database,
		NameMapCollection: c.NameMapCollection,
		RootDatabase:      c.RootDatabase,
		RootCollection:    c.RootCollection,
		SerialField:       c.SerialField,
		ConflictHandler:   ch,
		AbortPolicy:       ap,
		Logger:            logger,
	}
}

// OpenStore opens the configured store.
func (c *Config) OpenStore(logger logrus.FieldLogger) (*docstore.DB, error) {
	opt := docstore.Options{
		Logger:    logger,
		IsTesting: c.Store.NoSync,
		MmapSize:  c.Store.MmapSize,
	}
	if c.Store.Path == "" {
		return docstore.OpenMemory(opt), nil
	}
	return docstore.Open(c.Store.Path, opt)
}
