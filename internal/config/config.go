//go:build linux
// +build linux

// Package config loads the fanwatch configuration file.
package config

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/fanwatch/fanotify"
	"github.com/sirupsen/logrus"
)

const (
	defaultMountpoint = "/"
	defaultMaxEvents  = 4096
)

// Config is the configuration for fanwatch.
type Config struct {
	// Mountpoint is any path under the mount being watched. Watched paths
	// must live on this mount.
	Mountpoint string `toml:"mountpoint"`
	// WithName reports the file name under the watched directory. Requires
	// Linux 5.9 or later.
	WithName bool `toml:"with_name"`
	// MaxEvents is the length of the event channel.
	MaxEvents uint      `toml:"max_events"`
	Log       LogConfig `toml:"log"`
	Watches   []Watch   `toml:"watch"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Watch is a directory and the actions to watch it for. Actions are the
// names of the fanotify action constants, e.g. "FileModified".
type Watch struct {
	Path    string   `toml:"path"`
	Actions []string `toml:"actions"`
}

// Load loads the configuration from the file at path.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	c.ApplyDefaults()
	return &c, nil
}

// Decode parses the configuration from a TOML document.
func Decode(data string) (*Config, error) {
	var c Config
	if _, err := toml.Decode(data, &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	return &c, nil
}

// ApplyDefaults fills in unset fields.
func (c *Config) ApplyDefaults() {
	if c.Mountpoint == "" {
		c.Mountpoint = defaultMountpoint
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = defaultMaxEvents
	}
	if c.Log.Level == "" {
		c.Log.Level = logrus.InfoLevel.String()
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Watches) == 0 {
		errs = append(errs, errors.New("no watch configured"))
	}
	for i, w := range c.Watches {
		if w.Path == "" {
			errs = append(errs, fmt.Errorf("watch %d: empty path", i))
		}
		if len(w.Actions) == 0 {
			errs = append(errs, fmt.Errorf("watch %d (%s): no actions", i, w.Path))
		}
		if _, err := w.Action(); err != nil {
			errs = append(errs, fmt.Errorf("watch %d (%s): %w", i, w.Path, err))
		}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Log.formatter(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Action returns the union of the watch's actions.
func (w Watch) Action() (fanotify.Action, error) {
	var actions fanotify.Action
	for _, name := range w.Actions {
		a, err := fanotify.ParseAction(name)
		if err != nil {
			return 0, err
		}
		actions = actions.Or(a)
	}
	return actions, nil
}

func (lc LogConfig) formatter() (logrus.Formatter, error) {
	switch lc.Format {
	case "text":
		return &logrus.TextFormatter{FullTimestamp: true}, nil
	case "json":
		return &logrus.JSONFormatter{}, nil
	}
	return nil, fmt.Errorf("unknown log format %q", lc.Format)
}

// Apply configures logger with the level and format.
func (lc LogConfig) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	formatter, err := lc.formatter()
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	return nil
}
