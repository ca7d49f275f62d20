//go:build linux
// +build linux

// Binary fanwatch watches directories for filesystem events using fanotify.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var debug = flag.Bool("debug", false, "enable debug logging.")

func main() {
	forEachCmd(subcommands.Register)
	flag.Parse()
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()
	os.Exit(int(subcommands.Execute(ctx)))
}

func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(Watch), "")
	cb(new(Raw), "")

	const docGroup = "documentation"
	cb(new(Symbols), docGroup)
	cb(new(Errno), docGroup)
}

// fatalf logs and exits with status 1.
func fatalf(format string, args ...any) {
	logrus.Fatalf(format, args...)
}
