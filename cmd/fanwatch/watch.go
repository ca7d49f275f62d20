//go:build linux
// +build linux

package main

import (
	"context"
	"flag"
	"strings"

	"github.com/fanwatch/fanotify"
	"github.com/fanwatch/fanotify/internal/config"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Watch implements subcommands.Command for the "watch" command.
type Watch struct {
	configPath string
	mountpoint string
	withName   bool
	maxEvents  uint
	actions    string
}

// Name implements subcommands.Command.
func (*Watch) Name() string {
	return "watch"
}

// Synopsis implements subcommands.Command.
func (*Watch) Synopsis() string {
	return "watch directories and log their filesystem events"
}

// Usage implements subcommands.Command.
func (*Watch) Usage() string {
	return `watch [flags] [<path>...] - watch paths given on the command line, or the [[watch]] entries of -config.
`
}

// SetFlags implements subcommands.Command.
func (w *Watch) SetFlags(f *flag.FlagSet) {
	f.StringVar(&w.configPath, "config", "", "path to a TOML configuration file.")
	f.StringVar(&w.mountpoint, "mount", "/", "any path under the mount being watched.")
	f.BoolVar(&w.withName, "with-name", true, "report file names (Linux 5.9+).")
	f.UintVar(&w.maxEvents, "max-events", 4096, "length of the event queue.")
	f.StringVar(&w.actions, "actions", "FileModified,FileOrDirectoryCreated,FileOrDirectoryDeleted", "comma separated actions for paths given as arguments.")
}

func (w *Watch) loadConfig(f *flag.FlagSet) (*config.Config, error) {
	if w.configPath != "" {
		return config.Load(w.configPath)
	}
	c := &config.Config{
		Mountpoint: w.mountpoint,
		WithName:   w.withName,
		MaxEvents:  w.maxEvents,
	}
	for _, path := range f.Args() {
		c.Watches = append(c.Watches, config.Watch{Path: path, Actions: strings.Split(w.actions, ",")})
	}
	c.ApplyDefaults()
	if logrus.GetLevel() == logrus.DebugLevel {
		c.Log.Level = logrus.DebugLevel.String()
	}
	return c, nil
}

// Execute implements subcommands.Command.Execute.
func (w *Watch) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf, err := w.loadConfig(f)
	if err != nil {
		fatalf("%v", err)
	}
	if err := conf.Validate(); err != nil {
		f.Usage()
		logrus.Errorf("invalid configuration: %v", err)
		return subcommands.ExitUsageError
	}
	logger := logrus.StandardLogger()
	if err := conf.Log.Apply(logger); err != nil {
		fatalf("%v", err)
	}

	l, err := fanotify.NewListener(conf.Mountpoint, conf.MaxEvents, conf.WithName)
	if err != nil {
		fatalf("creating listener for %s: %v", conf.Mountpoint, err)
	}
	l.SetLogger(logger.WithField("mountpoint", conf.Mountpoint))
	for _, watch := range conf.Watches {
		action, err := watch.Action()
		if err != nil {
			l.Stop()
			fatalf("watching %s: %v", watch.Path, err)
		}
		if err := l.AddWatch(watch.Path, action); err != nil {
			l.Stop()
			fatalf("watching %s: %v", watch.Path, err)
		}
		logger.WithFields(logrus.Fields{"path": watch.Path, "actions": action}).Info("watching")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(l.Start)
	g.Go(func() error {
		<-gctx.Done()
		l.Stop()
		return nil
	})
	g.Go(func() error {
		for event := range l.Events {
			logger.WithFields(logrus.Fields{
				"path":    event.Path,
				"name":    event.FileName,
				"pid":     event.Pid,
				"actions": event.Actions,
			}).Info("event")
			if err := event.Close(); err != nil {
				logger.WithError(err).Debug("closing event fd")
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("listener failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
